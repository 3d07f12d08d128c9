// Пакет repository — реестр метаданных управляемых файлов и их владельцев.
// Реализация для PostgreSQL — чистый SQL через pgx, без ORM;
// реализация в памяти используется в режиме AR_REGISTRY=memory и в тестах.
package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

// Ошибки слоя репозиториев.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности (дублирующийся ресурс).
	ErrConflict = errors.New("конфликт — запись уже существует")
	// ErrHashConflict — файл с таким хэшем содержимого уже зарегистрирован.
	ErrHashConflict = errors.New("конфликт — файл с таким хэшем уже существует")
	// ErrPathConflict — файл с таким физическим путём уже зарегистрирован.
	ErrPathConflict = errors.New("конфликт — файл с таким путём уже существует")
	// ErrReferenced — файл используется владельцем с ограничением restrict.
	ErrReferenced = errors.New("файл используется и не может быть удалён")
)

// Имена ограничений уникальности managed_files (см. миграцию 000001).
const (
	constraintFileHash     = "uq_managed_files_file_hash"
	constraintPhysicalPath = "uq_managed_files_physical_path"
)

// ManagedFileRepository — операции над таблицей managed_files.
type ManagedFileRepository interface {
	// FindByID возвращает файл по идентификатору.
	FindByID(ctx context.Context, id string) (*model.ManagedFile, error)
	// FindByHash возвращает файл по SHA-256 содержимого.
	FindByHash(ctx context.Context, hash string) (*model.ManagedFile, error)
	// FindByPath возвращает файл по абсолютному физическому пути.
	FindByPath(ctx context.Context, path string) (*model.ManagedFile, error)
	// Create регистрирует новый файл. Возвращает ErrHashConflict или ErrPathConflict
	// при нарушении уникальности.
	Create(ctx context.Context, f *model.ManagedFile) error
	// Delete удаляет запись. Ссылки restrict → ErrReferenced,
	// ссылки set null (счёт расхода, уведомление этапа) очищаются.
	Delete(ctx context.Context, id string) error
	// List возвращает страницу файлов, упорядоченных по created_at.
	List(ctx context.Context, limit, offset int) ([]*model.ManagedFile, error)
	// RewritePathPrefix заменяет префикс-директорию физических путей
	// и возвращает идентификаторы изменённых записей.
	RewritePathPrefix(ctx context.Context, oldPrefix, newPrefix string) ([]string, error)
}

// OwnerRepository — создание и связывание сущностей-владельцев.
type OwnerRepository interface {
	// CreateOrGetLogicalDocument возвращает логический документ проекта
	// с данными именем и типом, создавая его при отсутствии.
	CreateOrGetLogicalDocument(ctx context.Context, d *model.LogicalDocument) (*model.LogicalDocument, error)
	// FindLogicalDocument возвращает логический документ по идентификатору.
	FindLogicalDocument(ctx context.Context, id string) (*model.LogicalDocument, error)
	// CreateDocumentVersion создаёт версию документа. Повторная ссылка
	// на тот же ManagedFile → ErrConflict.
	CreateDocumentVersion(ctx context.Context, v *model.DocumentVersion) error
	// CreateProjectAsset создаёт ресурс проекта.
	CreateProjectAsset(ctx context.Context, a *model.ProjectAsset) error
	// CreateSharedResource создаёт общий ресурс.
	CreateSharedResource(ctx context.Context, s *model.SharedResource) error
	// AttachExpenseInvoice прикрепляет файл как счёт к записи расхода.
	AttachExpenseInvoice(ctx context.Context, expenseID, fileID string) error
	// AttachMilestoneNotification прикрепляет файл как уведомление этапа конкурса.
	AttachMilestoneNotification(ctx context.Context, milestoneID, fileID string) error
}

// Registry — полный реестр метаданных, потребляемый ядром импорта.
type Registry interface {
	ManagedFileRepository
	OwnerRepository
	// InTx выполняет fn в одной транзакции реестра.
	// Вложенный вызов выполняется в уже открытой транзакции.
	InTx(ctx context.Context, fn func(reg Registry) error) error
}

// DBTX — интерфейс для выполнения SQL-запросов.
// Реализуется как *pgxpool.Pool, так и pgx.Tx, что позволяет
// использовать репозитории как внутри, так и вне транзакций.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxRunner позволяет выполнять операции в транзакции.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner создаёт TxRunner для управления транзакциями.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

// RunInTx выполняет fn внутри транзакции.
// При ошибке fn — транзакция откатывается.
// При успехе — коммитится.
func (r *TxRunner) RunInTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("ошибка начала транзакции: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // откат после коммита — no-op

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// postgresRegistry — реализация Registry поверх PostgreSQL.
type postgresRegistry struct {
	*managedFileRepo
	*ownerRepo
	// runner — nil для реестра, уже работающего внутри транзакции
	runner *TxRunner
}

// NewPostgresRegistry создаёт реестр поверх пула подключений.
func NewPostgresRegistry(pool *pgxpool.Pool) Registry {
	return &postgresRegistry{
		managedFileRepo: &managedFileRepo{db: pool},
		ownerRepo:       &ownerRepo{db: pool},
		runner:          NewTxRunner(pool),
	}
}

// InTx выполняет fn внутри транзакции PostgreSQL.
func (r *postgresRegistry) InTx(ctx context.Context, fn func(reg Registry) error) error {
	if r.runner == nil {
		return fn(r)
	}
	return r.runner.RunInTx(ctx, func(tx pgx.Tx) error {
		return fn(&postgresRegistry{
			managedFileRepo: &managedFileRepo{db: tx},
			ownerRepo:       &ownerRepo{db: tx},
		})
	})
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return false
}

// isForeignKeyViolation проверяет нарушение внешнего ключа PostgreSQL.
func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.ForeignKeyViolation
	}
	return false
}

// violatedConstraint возвращает имя нарушенного ограничения.
func violatedConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// escapeLike экранирует спецсимволы шаблона LIKE.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
