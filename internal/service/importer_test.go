package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/fsgateway"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/pathplan"
)

func documentRequest(src, versionTag string) *model.DocumentImport {
	return &model.DocumentImport{
		ImportCommon:        model.ImportCommon{SourcePath: src},
		ProjectID:           "abcdef0123456789",
		ProjectName:         "智慧城市",
		LogicalDocumentName: "商业计划书",
		LogicalDocumentType: "business_plan",
		VersionTag:          versionTag,
	}
}

func hasCode(errs []model.ImportError, code, field string) bool {
	for _, e := range errs {
		if e.Code == code && (field == "" || e.Field == field) {
			return true
		}
	}
	return false
}

// TestImport_DocumentEndToEnd проверяет полный импорт документа.
func TestImport_DocumentEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := env.source(t, "report.docx", "business plan body")

	res := env.importer.Import(ctx, documentRequest(src, "v1"))
	if !res.Success {
		t.Fatalf("импорт не выполнен: %+v", res.Errors)
	}

	wantRel := "Projects/智慧城市_23456789/商业计划书/BP_v1.docx"
	if res.RelativePath != wantRel {
		t.Errorf("RelativePath = %q, хотели %q", res.RelativePath, wantRel)
	}
	if res.FinalPath != filepath.Join(env.root, filepath.FromSlash(wantRel)) {
		t.Errorf("FinalPath = %q", res.FinalPath)
	}
	if res.GeneratedFileName != "BP_v1.docx" {
		t.Errorf("GeneratedFileName = %q, хотели BP_v1.docx", res.GeneratedFileName)
	}
	if res.Deduplicated {
		t.Error("первый импорт не должен быть дедуплицирован")
	}
	if got := readFile(t, res.FinalPath); got != "business plan body" {
		t.Errorf("содержимое = %q", got)
	}
	// Исходный файл не изменяется
	if got := readFile(t, src); got != "business plan body" {
		t.Errorf("исходный файл изменён: %q", got)
	}

	file, err := env.registry.FindByID(ctx, res.ManagedFileID)
	if err != nil {
		t.Fatalf("файл не зарегистрирован: %v", err)
	}
	if file.OriginalFileName != "report.docx" {
		t.Errorf("OriginalFileName = %q", file.OriginalFileName)
	}
	if file.FileHash == nil || len(*file.FileHash) != 64 {
		t.Errorf("ожидался SHA-256 hex, получено %v", file.FileHash)
	}

	if res.LogicalDocumentID == "" || res.DocumentVersionID == "" {
		t.Fatal("не созданы логический документ и версия")
	}
	versions := env.registry.DocumentVersions(res.LogicalDocumentID)
	if len(versions) != 1 || versions[0].ManagedFileID != res.ManagedFileID {
		t.Errorf("версии документа: %+v", versions)
	}
	if n := pendingCount(t, env.journal); n != 0 {
		t.Errorf("в журнале %d незавершённых транзакций", n)
	}
}

// TestImport_DedupIdempotent проверяет повторный импорт того же содержимого.
func TestImport_DedupIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := &model.InboxImport{ImportCommon: model.ImportCommon{SourcePath: env.source(t, "note.txt", "same bytes")}}
	first := env.importer.Import(ctx, req)
	if !first.Success {
		t.Fatalf("первый импорт: %+v", first.Errors)
	}

	// Другой исходный файл с тем же содержимым
	again := &model.InboxImport{ImportCommon: model.ImportCommon{SourcePath: env.source(t, "copy.txt", "same bytes")}}
	second := env.importer.Import(ctx, again)
	if !second.Success {
		t.Fatalf("повторный импорт: %+v", second.Errors)
	}
	if !second.Deduplicated {
		t.Error("ожидался Deduplicated=true")
	}
	if second.ManagedFileID != first.ManagedFileID || second.FinalPath != first.FinalPath {
		t.Errorf("ожидался тот же файл %s, получен %s (%s)", first.ManagedFileID, second.ManagedFileID, second.FinalPath)
	}

	dir := filepath.Join(env.root, pathplan.DirInbox, "2024-03-15")
	names, err := env.fs.List(dir)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(names) != 1 {
		t.Errorf("в директории ожидался 1 файл, получено %v", names)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if fsgateway.IsTempFile(e.Name()) {
			t.Errorf("остался временный файл %s", e.Name())
		}
	}

	page, _ := env.registry.List(ctx, 10, 0)
	if len(page) != 1 {
		t.Errorf("в реестре ожидалась 1 запись, получено %d", len(page))
	}
}

// TestImport_SecondVersionOfSameContent проверяет, что один ManagedFile
// не может стать двумя версиями документа.
func TestImport_SecondVersionOfSameContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	src := env.source(t, "plan.docx", "identical")

	first := env.importer.Import(ctx, documentRequest(src, "v1"))
	if !first.Success {
		t.Fatalf("первый импорт: %+v", first.Errors)
	}

	res := env.importer.Import(ctx, documentRequest(src, "v2"))
	if res.Success {
		t.Fatal("ожидалась ошибка METADATA_CONFLICT")
	}
	if !hasCode(res.Errors, model.CodeMetadataConflict, "managedFileId") {
		t.Errorf("ожидался METADATA_CONFLICT, получено %+v", res.Errors)
	}
	if res.ManagedFileID != first.ManagedFileID || !res.Deduplicated {
		t.Errorf("ManagedFileID = %q (dedup=%v), хотели %q", res.ManagedFileID, res.Deduplicated, first.ManagedFileID)
	}
	if res.FinalPath != first.FinalPath {
		t.Errorf("FinalPath = %q, хотели %q", res.FinalPath, first.FinalPath)
	}
	if n := pendingCount(t, env.journal); n != 0 {
		t.Errorf("транзакция журнала не закрыта: %d", n)
	}
}

// TestImport_NameCollision проверяет суффикс при занятом имени.
func TestImport_NameCollision(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Чужой файл с тем же именем, но другим содержимым
	taken := filepath.Join(env.root, pathplan.DirShared, "template", "template_report.pdf")
	writeFile(t, taken, "foreign")

	req := &model.SharedImport{
		ImportCommon: model.ImportCommon{SourcePath: env.source(t, "r.pdf", "ours")},
		ResourceType: "template",
		ResourceName: "report",
	}
	res := env.importer.Import(ctx, req)
	if !res.Success {
		t.Fatalf("импорт не выполнен: %+v", res.Errors)
	}
	if res.GeneratedFileName != "template_report_1.pdf" {
		t.Errorf("GeneratedFileName = %q, хотели template_report_1.pdf", res.GeneratedFileName)
	}
	if got := readFile(t, taken); got != "foreign" {
		t.Error("существующий файл перезаписан")
	}
}

// TestPreviewImport_NoSideEffects проверяет, что предпросмотр ничего не создаёт
// и совпадает с последующим импортом.
func TestPreviewImport_NoSideEffects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	req := &model.AssetImport{
		ImportCommon: model.ImportCommon{SourcePath: env.source(t, "Logo Final.PNG", "png")},
		ProjectID:    "p-0000000042",
		ProjectName:  "Alpha",
		AssetType:    "logo",
		AssetName:    "main",
	}

	preview := env.importer.PreviewImport(ctx, req)
	if !preview.IsValid {
		t.Fatalf("предпросмотр невалиден: %+v", preview.Errors)
	}
	if preview.GeneratedFileName != "LOGO_main.png" {
		t.Errorf("GeneratedFileName = %q, хотели LOGO_main.png", preview.GeneratedFileName)
	}
	if _, err := os.Stat(preview.TargetPath); !os.IsNotExist(err) {
		t.Errorf("предпросмотр создал директорию %s", preview.TargetPath)
	}
	if page, _ := env.registry.List(ctx, 10, 0); len(page) != 0 {
		t.Error("предпросмотр изменил реестр")
	}

	res := env.importer.Import(ctx, req)
	if !res.Success {
		t.Fatalf("импорт не выполнен: %+v", res.Errors)
	}
	if res.FinalPath != preview.FullPath {
		t.Errorf("FinalPath = %q, предпросмотр обещал %q", res.FinalPath, preview.FullPath)
	}
	if res.RelativePath != preview.RelativePath {
		t.Errorf("RelativePath = %q, предпросмотр обещал %q", res.RelativePath, preview.RelativePath)
	}
}

// TestPreviewImport_Errors проверяет отчёт об ошибках без исключений.
func TestPreviewImport_Errors(t *testing.T) {
	env := newTestEnv(t)

	preview := env.importer.PreviewImport(context.Background(), &model.InboxImport{
		ImportCommon: model.ImportCommon{SourcePath: filepath.Join(env.srcDir, "absent.pdf")},
	})
	if preview.IsValid {
		t.Fatal("ожидался невалидный предпросмотр")
	}
	if !hasCode(preview.Errors, model.CodeSourceNotFound, "sourcePath") {
		t.Errorf("ожидался SOURCE_NOT_FOUND, получено %+v", preview.Errors)
	}
}

// TestImport_Validation проверяет накопление ошибок проверки.
func TestImport_Validation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		req    model.ImportRequest
		fields []string
	}{
		{
			name:   "пустой документ",
			req:    &model.DocumentImport{ImportCommon: model.ImportCommon{SourcePath: "/tmp/a.pdf"}},
			fields: []string{"projectId", "projectName", "logicalDocumentName", "logicalDocumentType", "versionTag"},
		},
		{
			name:   "относительный путь",
			req:    &model.InboxImport{ImportCommon: model.ImportCommon{SourcePath: "a.pdf"}},
			fields: []string{"sourcePath"},
		},
		{
			name: "некорректный logicalDocumentId",
			req: func() model.ImportRequest {
				r := documentRequest("/tmp/a.pdf", "v1")
				r.LogicalDocumentID = "not-a-uuid"
				return r
			}(),
			fields: []string{"logicalDocumentId"},
		},
		{
			name: "конкурс без уровня",
			req: func() model.ImportRequest {
				r := documentRequest("/tmp/a.pdf", "v1")
				r.CompetitionInfo = &model.CompetitionInfo{Series: "Innovate"}
				return r
			}(),
			fields: []string{"competitionInfo.level"},
		},
		{
			name:   "общий ресурс",
			req:    &model.SharedImport{ImportCommon: model.ImportCommon{SourcePath: "/tmp/a.pdf"}},
			fields: []string{"resourceType", "resourceName"},
		},
		{
			name:   "пустой запрос",
			req:    nil,
			fields: []string{"importType"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := env.importer.Import(context.Background(), tt.req)
			if res.Success {
				t.Fatal("ожидалась ошибка проверки")
			}
			for _, f := range tt.fields {
				if !hasCode(res.Errors, model.CodeValidationError, f) {
					t.Errorf("нет VALIDATION_ERROR для %s: %+v", f, res.Errors)
				}
			}
		})
	}
}

// TestImport_SourceProblems проверяет отсутствующий источник и директорию.
func TestImport_SourceProblems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res := env.importer.Import(ctx, &model.InboxImport{
		ImportCommon: model.ImportCommon{SourcePath: filepath.Join(env.srcDir, "missing.pdf")},
	})
	if !hasCode(res.Errors, model.CodeSourceNotFound, "sourcePath") {
		t.Errorf("ожидался SOURCE_NOT_FOUND, получено %+v", res.Errors)
	}

	res = env.importer.Import(ctx, &model.InboxImport{
		ImportCommon: model.ImportCommon{SourcePath: env.srcDir},
	})
	if !hasCode(res.Errors, model.CodeValidationError, "sourcePath") {
		t.Errorf("ожидался VALIDATION_ERROR для директории, получено %+v", res.Errors)
	}
}

// TestImport_UnsupportedTypeWarning проверяет предупреждение о неизвестном типе.
func TestImport_UnsupportedTypeWarning(t *testing.T) {
	env := newTestEnv(t)

	res := env.importer.Import(context.Background(), &model.InboxImport{
		ImportCommon: model.ImportCommon{SourcePath: env.source(t, "dump.zzq", "raw")},
	})
	if !res.Success {
		t.Fatalf("импорт не выполнен: %+v", res.Errors)
	}
	if !hasCode(res.Warnings, model.CodeUnsupportedFileType, "") {
		t.Errorf("ожидалось предупреждение UNSUPPORTED_FILE_TYPE, получено %+v", res.Warnings)
	}
}

// TestImport_ExpenseInvoice проверяет привязку счёта к расходу.
func TestImport_ExpenseInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.registry.AddExpense("exp-1")

	req := &model.ExpenseImport{
		ImportCommon:       model.ImportCommon{SourcePath: env.source(t, "invoice.pdf", "invoice")},
		ProjectID:          "abcdef0123456789",
		ProjectName:        "Alpha",
		ExpenseDescription: "Hosting",
		ApplicantName:      "Ivan",
		ExpenseID:          "exp-1",
	}
	res := env.importer.Import(ctx, req)
	if !res.Success {
		t.Fatalf("импорт не выполнен: %+v", res.Errors)
	}
	if !strings.HasSuffix(filepath.Dir(res.FinalPath), filepath.Join(pathplan.DirExpenses, "Hosting_Ivan")) {
		t.Errorf("неожиданная директория расхода: %s", res.FinalPath)
	}
	if id, _ := env.registry.ExpenseInvoice("exp-1"); id != res.ManagedFileID {
		t.Errorf("счёт расхода = %q, хотели %q", id, res.ManagedFileID)
	}

	req.ExpenseID = "missing"
	req.SourcePath = env.source(t, "other.pdf", "other invoice")
	res = env.importer.Import(ctx, req)
	if !hasCode(res.Errors, model.CodeValidationError, "expenseId") {
		t.Errorf("ожидался VALIDATION_ERROR expenseId, получено %+v", res.Errors)
	}
}

// TestImport_ExistingLogicalDocument проверяет добавление версии по logicalDocumentId.
func TestImport_ExistingLogicalDocument(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.importer.Import(ctx, documentRequest(env.source(t, "v1.docx", "one"), "v1"))
	if !first.Success {
		t.Fatalf("первый импорт: %+v", first.Errors)
	}

	req := documentRequest(env.source(t, "v2.docx", "two"), "v2")
	req.LogicalDocumentID = first.LogicalDocumentID
	second := env.importer.Import(ctx, req)
	if !second.Success {
		t.Fatalf("второй импорт: %+v", second.Errors)
	}
	if second.LogicalDocumentID != first.LogicalDocumentID {
		t.Errorf("ожидался тот же документ %s, получен %s", first.LogicalDocumentID, second.LogicalDocumentID)
	}
	if n := len(env.registry.DocumentVersions(first.LogicalDocumentID)); n != 2 {
		t.Errorf("ожидалось 2 версии, получено %d", n)
	}

	// Документ чужого проекта
	other := documentRequest(env.source(t, "v3.docx", "three"), "v3")
	other.ProjectID = "ffffffff99999999"
	other.LogicalDocumentID = first.LogicalDocumentID
	res := env.importer.Import(ctx, other)
	if !hasCode(res.Errors, model.CodeValidationError, "logicalDocumentId") {
		t.Errorf("ожидался VALIDATION_ERROR logicalDocumentId, получено %+v", res.Errors)
	}
}

// TestBatchImport_IsolatesFailures проверяет независимость элементов пакета.
func TestBatchImport_IsolatesFailures(t *testing.T) {
	env := newTestEnv(t)

	reqs := []model.ImportRequest{
		&model.InboxImport{ImportCommon: model.ImportCommon{SourcePath: env.source(t, "a.pdf", "a")}},
		&model.InboxImport{ImportCommon: model.ImportCommon{SourcePath: filepath.Join(env.srcDir, "missing.pdf")}},
		&model.InboxImport{ImportCommon: model.ImportCommon{SourcePath: env.source(t, "c.pdf", "c")}},
	}

	results := env.importer.BatchImport(context.Background(), reqs)
	if len(results) != 3 {
		t.Fatalf("ожидалось 3 результата, получено %d", len(results))
	}
	if !results[0].Success || !results[2].Success {
		t.Errorf("успешные элементы: %+v, %+v", results[0].Errors, results[2].Errors)
	}
	if results[1].Success || !hasCode(results[1].Errors, model.CodeSourceNotFound, "") {
		t.Errorf("второй элемент: ожидался SOURCE_NOT_FOUND, получено %+v", results[1].Errors)
	}
	if filepath.Base(results[2].FinalPath) != "c.pdf" {
		t.Errorf("порядок результатов нарушен: %s", results[2].FinalPath)
	}
}

// TestBatchImport_StopsAfterCancel проверяет, что после отмены контекста
// оставшиеся элементы пакета не импортируются.
func TestBatchImport_StopsAfterCancel(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := env.source(t, "late.pdf", "late")
	results := env.importer.BatchImport(ctx, []model.ImportRequest{
		&model.InboxImport{ImportCommon: model.ImportCommon{SourcePath: src}},
		&model.InboxImport{ImportCommon: model.ImportCommon{SourcePath: src}},
	})

	if len(results) != 2 {
		t.Fatalf("ожидалось 2 результата, получено %d", len(results))
	}
	for i, res := range results {
		if res.Success || !hasCode(res.Errors, model.CodeInternalError, "") {
			t.Errorf("элемент %d: ожидался INTERNAL_ERROR, получено %+v", i, res)
		}
	}
	files, err := env.registry.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("после отмены зарегистрировано %d файлов", len(files))
	}
	if n := pendingCount(t, env.journal); n != 0 {
		t.Errorf("после отмены открыто %d транзакций журнала", n)
	}
}
