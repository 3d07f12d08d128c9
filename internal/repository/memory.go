package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

// MemoryRegistry — реализация Registry в памяти процесса.
// Соблюдает те же ограничения уникальности и правила удаления,
// что и схема PostgreSQL. Если fn внутри InTx вернула ошибку,
// сделанные через неё изменения отменяются в обратном порядке.
type MemoryRegistry struct {
	mu sync.RWMutex
	// txMu сериализует InTx
	txMu sync.Mutex

	files    map[string]*model.ManagedFile
	byHash   map[string]string
	byPath   map[string]string
	docs     map[string]*model.LogicalDocument
	versions map[string]*model.DocumentVersion
	assets   map[string]*model.ProjectAsset
	shared   map[string]*model.SharedResource

	// expenses — expenseID → invoice fileID ("" — счёт не прикреплён)
	expenses map[string]string
	// milestones — milestoneID → notification fileID
	milestones map[string]string
}

// NewMemoryRegistry создаёт пустой реестр в памяти.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		files:      make(map[string]*model.ManagedFile),
		byHash:     make(map[string]string),
		byPath:     make(map[string]string),
		docs:       make(map[string]*model.LogicalDocument),
		versions:   make(map[string]*model.DocumentVersion),
		assets:     make(map[string]*model.ProjectAsset),
		shared:     make(map[string]*model.SharedResource),
		expenses:   make(map[string]string),
		milestones: make(map[string]string),
	}
}

// InTx выполняет fn, исключая параллельные InTx. При ошибке fn
// записи, сделанные через переданный реестр, отменяются; изменения
// вне транзакции (параллельные Create) не затрагиваются.
func (m *MemoryRegistry) InTx(_ context.Context, fn func(reg Registry) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()

	log := &undoLog{}
	if err := fn(memoryTx{MemoryRegistry: m, log: log}); err != nil {
		m.mu.Lock()
		log.rollback()
		m.mu.Unlock()
		return err
	}
	return nil
}

// undoLog — обратные операции открытой транзакции.
// Выполняются под m.mu.
type undoLog struct {
	ops []func()
}

// add безопасен для nil: вне транзакции отмена не нужна.
func (l *undoLog) add(op func()) {
	if l != nil {
		l.ops = append(l.ops, op)
	}
}

func (l *undoLog) rollback() {
	for i := len(l.ops) - 1; i >= 0; i-- {
		l.ops[i]()
	}
	l.ops = nil
}

// memoryTx — реестр внутри открытой InTx; вложенный InTx не берёт блокировку повторно.
type memoryTx struct {
	*MemoryRegistry
	log *undoLog
}

func (t memoryTx) InTx(_ context.Context, fn func(reg Registry) error) error {
	return fn(t)
}

func (t memoryTx) Create(_ context.Context, f *model.ManagedFile) error {
	return t.create(f, t.log)
}

func (t memoryTx) Delete(_ context.Context, id string) error {
	return t.delete(id, t.log)
}

func (t memoryTx) RewritePathPrefix(_ context.Context, oldPrefix, newPrefix string) ([]string, error) {
	return t.rewritePathPrefix(oldPrefix, newPrefix, t.log)
}

func (t memoryTx) CreateOrGetLogicalDocument(_ context.Context, d *model.LogicalDocument) (*model.LogicalDocument, error) {
	return t.createOrGetLogicalDocument(d, t.log)
}

func (t memoryTx) CreateDocumentVersion(_ context.Context, v *model.DocumentVersion) error {
	return t.createDocumentVersion(v, t.log)
}

func (t memoryTx) CreateProjectAsset(_ context.Context, a *model.ProjectAsset) error {
	return t.createProjectAsset(a, t.log)
}

func (t memoryTx) CreateSharedResource(_ context.Context, s *model.SharedResource) error {
	return t.createSharedResource(s, t.log)
}

func (t memoryTx) AttachExpenseInvoice(_ context.Context, expenseID, fileID string) error {
	return t.attach(t.expenses, expenseID, fileID, t.log)
}

func (t memoryTx) AttachMilestoneNotification(_ context.Context, milestoneID, fileID string) error {
	return t.attach(t.milestones, milestoneID, fileID, t.log)
}

// --- ManagedFileRepository ---

func (m *MemoryRegistry) FindByID(_ context.Context, id string) (*model.ManagedFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneFile(f), nil
}

func (m *MemoryRegistry) FindByHash(_ context.Context, hash string) (*model.ManagedFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneFile(m.files[id]), nil
}

func (m *MemoryRegistry) FindByPath(_ context.Context, path string) (*model.ManagedFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byPath[path]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneFile(m.files[id]), nil
}

func (m *MemoryRegistry) Create(_ context.Context, f *model.ManagedFile) error {
	return m.create(f, nil)
}

func (m *MemoryRegistry) create(f *model.ManagedFile, log *undoLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[f.ID]; ok {
		return fmt.Errorf("%w: файл %s уже зарегистрирован", ErrConflict, f.ID)
	}
	if _, ok := m.byPath[f.PhysicalPath]; ok {
		return fmt.Errorf("%w: %s", ErrPathConflict, f.PhysicalPath)
	}
	if f.FileHash != nil {
		if _, ok := m.byHash[*f.FileHash]; ok {
			return fmt.Errorf("%w: %s", ErrHashConflict, *f.FileHash)
		}
	}

	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now

	stored := cloneFile(f)
	m.files[f.ID] = stored
	m.byPath[f.PhysicalPath] = f.ID
	if f.FileHash != nil {
		m.byHash[*f.FileHash] = f.ID
	}
	log.add(func() { m.dropFile(stored) })
	return nil
}

func (m *MemoryRegistry) Delete(_ context.Context, id string) error {
	return m.delete(id, nil)
}

func (m *MemoryRegistry) delete(id string, log *undoLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[id]
	if !ok {
		return ErrNotFound
	}

	// ON DELETE RESTRICT
	for _, v := range m.versions {
		if v.ManagedFileID == id {
			return fmt.Errorf("%w: %s (версия документа)", ErrReferenced, id)
		}
	}
	for _, a := range m.assets {
		if a.ManagedFileID == id {
			return fmt.Errorf("%w: %s (ресурс проекта)", ErrReferenced, id)
		}
	}
	for _, s := range m.shared {
		if s.ManagedFileID == id {
			return fmt.Errorf("%w: %s (общий ресурс)", ErrReferenced, id)
		}
	}

	// ON DELETE SET NULL
	var expenses, milestones []string
	for k, v := range m.expenses {
		if v == id {
			m.expenses[k] = ""
			expenses = append(expenses, k)
		}
	}
	for k, v := range m.milestones {
		if v == id {
			m.milestones[k] = ""
			milestones = append(milestones, k)
		}
	}

	m.dropFile(f)
	log.add(func() {
		m.files[id] = f
		m.byPath[f.PhysicalPath] = id
		if f.FileHash != nil {
			m.byHash[*f.FileHash] = id
		}
		for _, k := range expenses {
			m.expenses[k] = id
		}
		for _, k := range milestones {
			m.milestones[k] = id
		}
	})
	return nil
}

// dropFile убирает запись и её индексы. Вызывается под m.mu.
func (m *MemoryRegistry) dropFile(f *model.ManagedFile) {
	delete(m.files, f.ID)
	delete(m.byPath, f.PhysicalPath)
	if f.FileHash != nil {
		delete(m.byHash, *f.FileHash)
	}
}

func (m *MemoryRegistry) List(_ context.Context, limit, offset int) ([]*model.ManagedFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := make([]*model.ManagedFile, 0, len(m.files))
	for _, f := range m.files {
		all = append(all, f)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})

	if offset >= len(all) {
		return nil, nil
	}
	end := min(offset+limit, len(all))

	result := make([]*model.ManagedFile, 0, end-offset)
	for _, f := range all[offset:end] {
		result = append(result, cloneFile(f))
	}
	return result, nil
}

func (m *MemoryRegistry) RewritePathPrefix(_ context.Context, oldPrefix, newPrefix string) ([]string, error) {
	return m.rewritePathPrefix(oldPrefix, newPrefix, nil)
}

func (m *MemoryRegistry) rewritePathPrefix(oldPrefix, newPrefix string, log *undoLog) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sep := string(filepath.Separator)
	oldDir := strings.TrimSuffix(filepath.Clean(oldPrefix), sep) + sep
	newDir := strings.TrimSuffix(filepath.Clean(newPrefix), sep) + sep

	// Сначала проверяем все новые пути, чтобы не применить изменение частично
	updates := make(map[string]string)
	for id, f := range m.files {
		if strings.HasPrefix(f.PhysicalPath, oldDir) {
			newPath := newDir + strings.TrimPrefix(f.PhysicalPath, oldDir)
			if owner, ok := m.byPath[newPath]; ok && owner != id {
				return nil, fmt.Errorf("%w: %s", ErrPathConflict, newPath)
			}
			updates[id] = newPath
		}
	}

	now := time.Now().UTC()
	ids := make([]string, 0, len(updates))
	for id, newPath := range updates {
		f := m.files[id]
		oldPath, oldUpdated := f.PhysicalPath, f.UpdatedAt
		delete(m.byPath, oldPath)
		f.PhysicalPath = newPath
		f.UpdatedAt = now
		m.byPath[newPath] = id
		ids = append(ids, id)
		log.add(func() {
			delete(m.byPath, newPath)
			f.PhysicalPath = oldPath
			f.UpdatedAt = oldUpdated
			m.byPath[oldPath] = id
		})
	}
	sort.Strings(ids)
	return ids, nil
}

// --- OwnerRepository ---

func (m *MemoryRegistry) CreateOrGetLogicalDocument(_ context.Context, d *model.LogicalDocument) (*model.LogicalDocument, error) {
	return m.createOrGetLogicalDocument(d, nil)
}

func (m *MemoryRegistry) createOrGetLogicalDocument(d *model.LogicalDocument, log *undoLog) (*model.LogicalDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.docs {
		if existing.ProjectID == d.ProjectID && existing.Name == d.Name && existing.Type == d.Type {
			out := *existing
			return &out, nil
		}
	}

	now := time.Now().UTC()
	stored := *d
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.docs[stored.ID] = &stored
	log.add(func() { delete(m.docs, stored.ID) })

	out := stored
	return &out, nil
}

func (m *MemoryRegistry) FindLogicalDocument(_ context.Context, id string) (*model.LogicalDocument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *d
	return &out, nil
}

func (m *MemoryRegistry) CreateDocumentVersion(_ context.Context, v *model.DocumentVersion) error {
	return m.createDocumentVersion(v, nil)
}

func (m *MemoryRegistry) createDocumentVersion(v *model.DocumentVersion, log *undoLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[v.LogicalDocumentID]; !ok {
		return fmt.Errorf("%w: логический документ %s", ErrNotFound, v.LogicalDocumentID)
	}
	if _, ok := m.files[v.ManagedFileID]; !ok {
		return fmt.Errorf("%w: файл %s", ErrNotFound, v.ManagedFileID)
	}
	for _, existing := range m.versions {
		if existing.ManagedFileID == v.ManagedFileID {
			return fmt.Errorf("%w: файл %s уже привязан к версии документа", ErrConflict, v.ManagedFileID)
		}
	}

	v.CreatedAt = time.Now().UTC()
	stored := *v
	m.versions[v.ID] = &stored
	log.add(func() { delete(m.versions, stored.ID) })
	return nil
}

func (m *MemoryRegistry) CreateProjectAsset(_ context.Context, a *model.ProjectAsset) error {
	return m.createProjectAsset(a, nil)
}

func (m *MemoryRegistry) createProjectAsset(a *model.ProjectAsset, log *undoLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[a.ManagedFileID]; !ok {
		return fmt.Errorf("%w: файл %s", ErrNotFound, a.ManagedFileID)
	}

	a.CreatedAt = time.Now().UTC()
	stored := *a
	m.assets[a.ID] = &stored
	log.add(func() { delete(m.assets, stored.ID) })
	return nil
}

func (m *MemoryRegistry) CreateSharedResource(_ context.Context, s *model.SharedResource) error {
	return m.createSharedResource(s, nil)
}

func (m *MemoryRegistry) createSharedResource(s *model.SharedResource, log *undoLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[s.ManagedFileID]; !ok {
		return fmt.Errorf("%w: файл %s", ErrNotFound, s.ManagedFileID)
	}

	s.CreatedAt = time.Now().UTC()
	stored := *s
	m.shared[s.ID] = &stored
	log.add(func() { delete(m.shared, stored.ID) })
	return nil
}

func (m *MemoryRegistry) AttachExpenseInvoice(_ context.Context, expenseID, fileID string) error {
	return m.attach(m.expenses, expenseID, fileID, nil)
}

func (m *MemoryRegistry) AttachMilestoneNotification(_ context.Context, milestoneID, fileID string) error {
	return m.attach(m.milestones, milestoneID, fileID, nil)
}

func (m *MemoryRegistry) attach(owners map[string]string, ownerID, fileID string, log *undoLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := owners[ownerID]; !ok {
		return fmt.Errorf("%w: запись-владелец %s", ErrNotFound, ownerID)
	}
	if _, ok := m.files[fileID]; !ok {
		return fmt.Errorf("%w: файл %s", ErrNotFound, fileID)
	}
	prev := owners[ownerID]
	owners[ownerID] = fileID
	log.add(func() { owners[ownerID] = prev })
	return nil
}

// --- Записи внешних сервисов ---

// AddExpense регистрирует запись расхода без прикреплённого счёта.
func (m *MemoryRegistry) AddExpense(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expenses[id] = ""
}

// AddMilestone регистрирует этап конкурса без уведомления.
func (m *MemoryRegistry) AddMilestone(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.milestones[id] = ""
}

// ExpenseInvoice возвращает идентификатор файла-счёта расхода.
func (m *MemoryRegistry) ExpenseInvoice(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fileID, ok := m.expenses[id]
	return fileID, ok
}

// MilestoneNotification возвращает идентификатор файла-уведомления этапа.
func (m *MemoryRegistry) MilestoneNotification(id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fileID, ok := m.milestones[id]
	return fileID, ok
}

// DocumentVersions возвращает версии, ссылающиеся на логический документ.
func (m *MemoryRegistry) DocumentVersions(logicalDocumentID string) []*model.DocumentVersion {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*model.DocumentVersion
	for _, v := range m.versions {
		if v.LogicalDocumentID == logicalDocumentID {
			c := *v
			out = append(out, &c)
		}
	}
	return out
}

func cloneFile(f *model.ManagedFile) *model.ManagedFile {
	c := *f
	if f.FileHash != nil {
		h := *f.FileHash
		c.FileHash = &h
	}
	return &c
}

// Проверка на этапе компиляции
var _ Registry = (*MemoryRegistry)(nil)
