// Пакет service — бизнес-логика Archive Module: импорт файлов,
// операции над управляемыми файлами, фоновая сверка и восстановление.
package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/domain/stage"
	"github.com/bigkaa/goartstore/archive-module/internal/repository"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/contentstore"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/fsgateway"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/naming"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/pathplan"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/wal"
)

// internalErrorMessage — единственное сообщение, которое получает клиент
// при непредвиденной ошибке. Подробности пишутся в лог.
const internalErrorMessage = "внутренняя ошибка импорта, подробности в журнале сервиса"

// Journal — журнал импорта (реализуется *wal.WAL).
type Journal interface {
	Start(op wal.OperationType, source, target string) (*wal.Entry, error)
	RecordTemp(txID, tempPath string) error
	RecordTarget(txID, target string) error
	Commit(txID, fileID string) error
	Rollback(txID, reason string) error
}

// ImportService — оркестратор импорта: проверка запроса, планирование
// пути и имени, копирование с дедупликацией и связывание метаданных.
type ImportService struct {
	fs       fsgateway.Gateway
	registry repository.Registry
	planner  *pathplan.Planner
	store    *contentstore.Store
	journal  Journal
	logger   *slog.Logger
}

// NewImportService создаёт оркестратор импорта.
func NewImportService(
	gw fsgateway.Gateway,
	registry repository.Registry,
	planner *pathplan.Planner,
	store *contentstore.Store,
	journal Journal,
	logger *slog.Logger,
) *ImportService {
	return &ImportService{
		fs:       gw,
		registry: registry,
		planner:  planner,
		store:    store,
		journal:  journal,
		logger:   logger.With(slog.String("component", "importer")),
	}
}

// Validate проверяет обязательные поля запроса. Ошибки накапливаются,
// чтобы вызывающий увидел все проблемы сразу.
func (s *ImportService) Validate(req model.ImportRequest) []model.ImportError {
	if req == nil {
		return []model.ImportError{validationError("importType", "запрос импорта не задан")}
	}

	var errs []model.ImportError
	require := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, validationError(field, "обязательное поле не заполнено"))
		}
	}

	common := req.Common()
	require("sourcePath", common.SourcePath)
	if common.SourcePath != "" && !filepath.IsAbs(common.SourcePath) {
		errs = append(errs, validationError("sourcePath", "путь исходного файла должен быть абсолютным"))
	}

	switch r := req.(type) {
	case *model.DocumentImport:
		require("projectId", r.ProjectID)
		require("projectName", r.ProjectName)
		require("logicalDocumentName", r.LogicalDocumentName)
		require("logicalDocumentType", r.LogicalDocumentType)
		require("versionTag", r.VersionTag)
		if r.LogicalDocumentID != "" {
			if _, err := uuid.Parse(r.LogicalDocumentID); err != nil {
				errs = append(errs, validationError("logicalDocumentId", "некорректный UUID"))
			}
		}
		if ci := r.CompetitionInfo; ci != nil && !r.IsGenericVersion {
			require("competitionInfo.series", ci.Series)
			require("competitionInfo.level", ci.Level)
		}
	case *model.AssetImport:
		require("projectId", r.ProjectID)
		require("projectName", r.ProjectName)
		require("assetType", r.AssetType)
		require("assetName", r.AssetName)
	case *model.ExpenseImport:
		require("projectId", r.ProjectID)
		require("projectName", r.ProjectName)
		require("expenseDescription", r.ExpenseDescription)
	case *model.SharedImport:
		require("resourceType", r.ResourceType)
		require("resourceName", r.ResourceName)
	case *model.CompetitionImport:
		require("seriesName", r.SeriesName)
		require("levelName", r.LevelName)
	case *model.InboxImport:
	default:
		errs = append(errs, validationError("importType", fmt.Sprintf("неизвестный вид импорта %T", req)))
	}
	return errs
}

// target — спланированное размещение файла.
type target struct {
	dir         string
	relativeDir string
	name        string
}

func (t *target) fullPath() string {
	return filepath.Join(t.dir, t.name)
}

func (t *target) relativePath() string {
	if t.relativeDir == "" {
		return t.name
	}
	return t.relativeDir + "/" + t.name
}

// planTarget строит директорию и имя с учётом уже существующих в ней файлов.
func (s *ImportService) planTarget(req model.ImportRequest) (*target, *model.ImportError) {
	plan, err := s.planner.Plan(req)
	if err != nil {
		return nil, pathError(err)
	}

	desired, err := naming.Synthesize(req)
	if err != nil {
		return nil, &model.ImportError{Code: model.CodeInternalError, Message: err.Error()}
	}

	existing, err := s.fs.List(plan.Dir)
	if err != nil {
		return nil, &model.ImportError{Code: model.CodePathInvalid, Message: err.Error()}
	}

	t := &target{dir: plan.Dir, relativeDir: plan.RelativeDir, name: naming.ResolveUnique(desired, existing)}
	if err := naming.ValidateName(t.name); err != nil {
		return nil, &model.ImportError{Code: model.CodePathInvalid, Field: "fileName", Message: err.Error()}
	}
	if err := pathplan.ValidatePath(t.fullPath()); err != nil {
		return nil, pathError(err)
	}
	return t, nil
}

// PreviewImport выполняет проверку, синтез имени и планирование пути
// без побочных эффектов: директории не создаются, файлы не копируются,
// реестр не изменяется.
func (s *ImportService) PreviewImport(_ context.Context, req model.ImportRequest) *model.PreviewResult {
	res := &model.PreviewResult{Errors: []model.ImportError{}, Warnings: []model.ImportError{}}

	if errs := s.Validate(req); len(errs) > 0 {
		res.Errors = errs
		return res
	}

	common := req.Common()
	if _, err := s.fs.Stat(common.SourcePath); err != nil {
		res.Errors = append(res.Errors, sourceError(common.SourcePath, err))
	}
	if w := typeWarning(common.FileName()); w != nil {
		res.Warnings = append(res.Warnings, *w)
	}

	t, ierr := s.planTarget(req)
	if ierr != nil {
		res.Errors = append(res.Errors, *ierr)
		return res
	}

	res.GeneratedFileName = t.name
	res.TargetPath = t.dir
	res.RelativePath = t.relativePath()
	res.FullPath = t.fullPath()
	res.IsValid = len(res.Errors) == 0
	return res
}

// Import выполняет полный конвейер импорта одного файла.
// Доменные ошибки возвращаются в результате; непредвиденные ошибки
// и паники сводятся к одной ошибке INTERNAL_ERROR.
func (s *ImportService) Import(ctx context.Context, req model.ImportRequest) (res *model.ImportResult) {
	started := time.Now()
	kind := "unknown"
	if req != nil {
		kind = string(req.Kind())
	}

	run := &importRun{svc: s, req: req, tracker: stage.NewTracker()}
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Паника при импорте",
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())),
			)
			res = run.fail(model.ImportError{Code: model.CodeInternalError, Message: internalErrorMessage})
		}
		s.observe(kind, res, time.Since(started))
	}()

	return run.execute(ctx)
}

// BatchImport последовательно импортирует запросы. Ошибка одного
// элемента не прерывает обработку остальных; порядок результатов
// совпадает с порядком запросов. Начатый импорт не прерывается, но
// после отмены ctx оставшиеся элементы не запускаются.
func (s *ImportService) BatchImport(ctx context.Context, reqs []model.ImportRequest) []*model.ImportResult {
	results := make([]*model.ImportResult, len(reqs))
	skipped := 0
	for i, req := range reqs {
		if err := ctx.Err(); err != nil {
			results[i] = model.FailedResult([]model.ImportError{{
				Code:    model.CodeInternalError,
				Message: "пакетный импорт прерван: " + err.Error(),
			}}, nil)
			skipped++
			continue
		}
		results[i] = s.Import(ctx, req)
	}
	if skipped > 0 {
		s.logger.Warn("Пакетный импорт прерван отменой контекста",
			slog.Int("total", len(reqs)),
			slog.Int("skipped", skipped),
		)
	}
	return results
}

func (s *ImportService) observe(kind string, res *model.ImportResult, d time.Duration) {
	importDurationSeconds.WithLabelValues(kind).Observe(d.Seconds())
	switch {
	case res == nil || !res.Success:
		importsTotal.WithLabelValues(kind, resultFailed).Inc()
		if res != nil {
			for _, e := range res.Errors {
				importErrorsTotal.WithLabelValues(e.Code).Inc()
			}
		}
	case res.Deduplicated:
		importsTotal.WithLabelValues(kind, resultDeduplicated).Inc()
	default:
		importsTotal.WithLabelValues(kind, resultStored).Inc()
	}
}

// importRun — состояние одного импорта.
type importRun struct {
	svc      *ImportService
	req      model.ImportRequest
	tracker  *stage.Tracker
	txID     string
	warnings []model.ImportError
}

func (r *importRun) execute(ctx context.Context) *model.ImportResult {
	s := r.svc

	if errs := s.Validate(r.req); len(errs) > 0 {
		return r.fail(errs...)
	}
	common := r.req.Common()

	info, err := s.fs.Stat(common.SourcePath)
	if err != nil {
		return r.fail(sourceError(common.SourcePath, err))
	}
	if info.IsDir {
		return r.fail(validationError("sourcePath", "исходный путь является директорией"))
	}
	if err := r.advance(stage.SourceChecked); err != nil {
		return r.internal(err)
	}

	mimeType, _ := contentstore.DetectMIME(common.FileName())
	if w := typeWarning(common.FileName()); w != nil {
		r.warnings = append(r.warnings, *w)
	}

	t, ierr := s.planTarget(r.req)
	if ierr != nil {
		return r.fail(*ierr)
	}
	if err := r.advance(stage.NameResolved); err != nil {
		return r.internal(err)
	}

	if err := s.fs.MkdirAll(t.dir); err != nil {
		return r.fail(model.ImportError{Code: model.CodeDirectoryCreationFailed, Message: err.Error()})
	}
	if err := r.advance(stage.PathEnsured); err != nil {
		return r.internal(err)
	}

	entry, err := s.journal.Start(wal.OpImport, common.SourcePath, t.fullPath())
	if err != nil {
		return r.internal(err)
	}
	r.txID = entry.TransactionID

	ingest, err := s.store.Ingest(ctx, contentstore.IngestRequest{
		SourcePath:       common.SourcePath,
		TargetDir:        t.dir,
		FileName:         t.name,
		OriginalFileName: common.FileName(),
		DisplayName:      common.DisplayName,
		MimeType:         mimeType,
		ExpectedSize:     info.Size,
		Tracker:          r.tracker,
		OnCopied: func(tempPath string) {
			if err := s.journal.RecordTemp(r.txID, tempPath); err != nil {
				s.logger.Warn("Не удалось записать временный файл в журнал",
					slog.String("tx_id", r.txID),
					slog.String("error", err.Error()),
				)
			}
		},
		OnPlaced: func(finalPath string) {
			if err := s.journal.RecordTarget(r.txID, finalPath); err != nil {
				s.logger.Warn("Не удалось записать итоговый путь в журнал",
					slog.String("tx_id", r.txID),
					slog.String("path", finalPath),
					slog.String("error", err.Error()),
				)
			}
		},
	})
	if err != nil {
		return r.ingestFailed(err)
	}
	file := ingest.File

	link, ierr := r.link(ctx, file)
	if ierr != nil {
		// Содержимое уже хранится; сообщаем, к какому файлу оно привязано
		res := r.fail(*ierr)
		res.ManagedFileID = file.ID
		res.FinalPath = file.PhysicalPath
		res.Deduplicated = ingest.Deduplicated
		return res
	}
	if err := r.advance(stage.MetadataLinked); err != nil {
		return r.internal(err)
	}

	if err := s.journal.Commit(r.txID, file.ID); err != nil {
		s.logger.Warn("Не удалось завершить транзакцию журнала",
			slog.String("tx_id", r.txID),
			slog.String("error", err.Error()),
		)
	}
	r.txID = ""
	_ = r.advance(stage.Done)

	if !ingest.Deduplicated {
		importedBytesTotal.Add(float64(file.FileSizeBytes))
	}

	root := s.planner.Root()
	s.logger.Info("Импорт завершён",
		slog.String("kind", string(r.req.Kind())),
		slog.String("file_id", file.ID),
		slog.String("path", file.PhysicalPath),
		slog.Bool("deduplicated", ingest.Deduplicated),
	)

	return &model.ImportResult{
		Success:           true,
		ManagedFileID:     file.ID,
		FinalPath:         file.PhysicalPath,
		RelativePath:      model.RelativeTo(root, file.PhysicalPath),
		GeneratedFileName: filepath.Base(file.PhysicalPath),
		LogicalDocumentID: link.logicalDocumentID,
		DocumentVersionID: link.documentVersionID,
		Deduplicated:      ingest.Deduplicated,
		Warnings:          r.warnings,
	}
}

// ingestFailed сопоставляет ошибку ContentStore коду импорта.
func (r *importRun) ingestFailed(err error) *model.ImportResult {
	switch {
	case errors.Is(err, contentstore.ErrCopyFailed):
		return r.fail(model.ImportError{Code: model.CodeCopyFailed, Message: err.Error()})
	case errors.Is(err, contentstore.ErrIntegrityMismatch):
		return r.fail(model.ImportError{Code: model.CodeIntegrityMismatch, Message: err.Error()})
	case errors.Is(err, repository.ErrPathConflict):
		return r.fail(model.ImportError{Code: model.CodeMetadataConflict, Field: "physicalPath", Message: err.Error()})
	default:
		return r.internal(err)
	}
}

// linkResult — идентификаторы созданных записей-владельцев.
type linkResult struct {
	logicalDocumentID string
	documentVersionID string
}

// link создаёт записи-владельцы для ManagedFile в одной транзакции реестра.
func (r *importRun) link(ctx context.Context, file *model.ManagedFile) (*linkResult, *model.ImportError) {
	out := &linkResult{}
	var ierr *model.ImportError

	err := r.svc.registry.InTx(ctx, func(reg repository.Registry) error {
		switch req := r.req.(type) {
		case *model.DocumentImport:
			return r.linkDocument(ctx, reg, req, file, out, &ierr)
		case *model.AssetImport:
			return reg.CreateProjectAsset(ctx, &model.ProjectAsset{
				ID:            uuid.New().String(),
				ProjectID:     req.ProjectID,
				Name:          req.AssetName,
				AssetType:     req.AssetType,
				ManagedFileID: file.ID,
				Notes:         req.Notes,
			})
		case *model.SharedImport:
			return reg.CreateSharedResource(ctx, &model.SharedResource{
				ID:            uuid.New().String(),
				ResourceType:  req.ResourceType,
				Name:          req.ResourceName,
				ManagedFileID: file.ID,
				CustomFields:  req.CustomFields,
				Notes:         req.Notes,
			})
		case *model.ExpenseImport:
			if req.ExpenseID == "" {
				return nil
			}
			if err := reg.AttachExpenseInvoice(ctx, req.ExpenseID, file.ID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					ie := validationError("expenseId", "запись расхода не найдена")
					ierr = &ie
				}
				return err
			}
			return nil
		case *model.CompetitionImport:
			if req.MilestoneID == "" {
				return nil
			}
			if err := reg.AttachMilestoneNotification(ctx, req.MilestoneID, file.ID); err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					ie := validationError("milestoneId", "этап конкурса не найден")
					ierr = &ie
				}
				return err
			}
			return nil
		case *model.InboxImport:
			return nil
		default:
			return fmt.Errorf("неизвестный вид импорта %T", r.req)
		}
	})
	if err == nil {
		return out, nil
	}
	if ierr != nil {
		return nil, ierr
	}
	if errors.Is(err, repository.ErrConflict) {
		return nil, &model.ImportError{Code: model.CodeMetadataConflict, Message: err.Error()}
	}

	r.svc.logger.Error("Ошибка связывания метаданных",
		slog.String("file_id", file.ID),
		slog.String("error", err.Error()),
	)
	return nil, &model.ImportError{Code: model.CodeInternalError, Message: internalErrorMessage}
}

// linkDocument находит или создаёт логический документ и создаёт версию.
func (r *importRun) linkDocument(
	ctx context.Context,
	reg repository.Registry,
	req *model.DocumentImport,
	file *model.ManagedFile,
	out *linkResult,
	ierr **model.ImportError,
) error {
	var doc *model.LogicalDocument
	var err error

	if req.LogicalDocumentID != "" {
		doc, err = reg.FindLogicalDocument(ctx, req.LogicalDocumentID)
		if errors.Is(err, repository.ErrNotFound) {
			ie := validationError("logicalDocumentId", "логический документ не найден")
			*ierr = &ie
			return err
		}
		if err != nil {
			return err
		}
		if doc.ProjectID != req.ProjectID {
			ie := validationError("logicalDocumentId", "логический документ принадлежит другому проекту")
			*ierr = &ie
			return errors.New(ie.Message)
		}
	} else {
		doc, err = reg.CreateOrGetLogicalDocument(ctx, &model.LogicalDocument{
			ID:        uuid.New().String(),
			ProjectID: req.ProjectID,
			Name:      req.LogicalDocumentName,
			Type:      req.LogicalDocumentType,
		})
		if err != nil {
			return err
		}
	}

	version := &model.DocumentVersion{
		ID:                uuid.New().String(),
		LogicalDocumentID: doc.ID,
		ManagedFileID:     file.ID,
		VersionTag:        req.VersionTag,
		IsGenericVersion:  req.IsGenericVersion,
		Notes:             req.Notes,
	}
	if ci := req.CompetitionInfo; ci != nil {
		version.CompetitionSeries = ci.Series
		version.CompetitionLevel = ci.Level
		version.CompetitionProjectName = ci.ProjectName
	}

	if err := reg.CreateDocumentVersion(ctx, version); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			ie := model.ImportError{
				Code:    model.CodeMetadataConflict,
				Field:   "managedFileId",
				Message: fmt.Sprintf("файл %s уже привязан к версии документа", file.ID),
			}
			*ierr = &ie
		}
		return err
	}

	out.logicalDocumentID = doc.ID
	out.documentVersionID = version.ID
	return nil
}

func (r *importRun) advance(to stage.Stage) error {
	return r.tracker.Advance(to)
}

// fail завершает импорт доменными ошибками.
func (r *importRun) fail(errs ...model.ImportError) *model.ImportResult {
	r.tracker.Fail()

	if r.txID != "" {
		reason := ""
		if len(errs) > 0 {
			reason = errs[0].Code
		}
		if err := r.svc.journal.Rollback(r.txID, reason); err != nil {
			r.svc.logger.Warn("Не удалось отменить транзакцию журнала",
				slog.String("tx_id", r.txID),
				slog.String("error", err.Error()),
			)
		}
		r.txID = ""
	}

	attrs := []any{
		slog.String("failed_stage", string(r.tracker.FailedAt())),
		slog.Bool("side_effects", r.tracker.HasSideEffects()),
	}
	if len(errs) > 0 {
		attrs = append(attrs, slog.String("code", errs[0].Code), slog.String("message", errs[0].Message))
	}
	r.svc.logger.Warn("Импорт не выполнен", attrs...)

	return model.FailedResult(errs, r.warnings)
}

// internal логирует непредвиденную ошибку и возвращает INTERNAL_ERROR.
func (r *importRun) internal(err error) *model.ImportResult {
	r.svc.logger.Error("Непредвиденная ошибка импорта",
		slog.String("stage", string(r.tracker.Current())),
		slog.String("error", err.Error()),
	)
	return r.fail(model.ImportError{Code: model.CodeInternalError, Message: internalErrorMessage})
}

func validationError(field, msg string) model.ImportError {
	return model.ImportError{Code: model.CodeValidationError, Field: field, Message: msg}
}

func sourceError(path string, err error) model.ImportError {
	msg := fmt.Sprintf("исходный файл %s недоступен: %v", path, err)
	if errors.Is(err, fs.ErrNotExist) {
		msg = fmt.Sprintf("исходный файл %s не найден", path)
	}
	return model.ImportError{Code: model.CodeSourceNotFound, Field: "sourcePath", Message: msg}
}

func pathError(err error) *model.ImportError {
	ie := &model.ImportError{Code: model.CodePathInvalid, Message: err.Error()}
	var invalid *pathplan.InvalidError
	if errors.As(err, &invalid) {
		ie.Field = invalid.Field
	} else if !errors.Is(err, pathplan.ErrInvalidPath) {
		ie.Code = model.CodeInternalError
	}
	return ie
}

// typeWarning возвращает предупреждение для неподдерживаемого расширения.
func typeWarning(fileName string) *model.ImportError {
	if _, supported := contentstore.DetectMIME(fileName); supported {
		return nil
	}
	return &model.ImportError{
		Code:    model.CodeUnsupportedFileType,
		Field:   "originalFileName",
		Message: fmt.Sprintf("тип файла %q не входит в список поддерживаемых, импорт продолжается", filepath.Ext(fileName)),
	}
}
