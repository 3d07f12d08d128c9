package model

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// ResourceKind — дискриминант запроса импорта. Определяет шаблон пути,
// шаблон имени и набор обязательных полей.
type ResourceKind string

const (
	KindDocument    ResourceKind = "document"
	KindAsset       ResourceKind = "asset"
	KindExpense     ResourceKind = "expense"
	KindShared      ResourceKind = "shared"
	KindCompetition ResourceKind = "competition"
	KindInbox       ResourceKind = "inbox"
)

// ImportRequest — размеченное объединение запросов импорта.
// Реализуется только типами этого пакета (закрытый метод importRequest),
// поэтому type switch по нему исчерпывающий.
type ImportRequest interface {
	Kind() ResourceKind
	Common() *ImportCommon
	importRequest()
}

// ImportCommon — поля, общие для всех видов импорта.
type ImportCommon struct {
	// SourcePath — абсолютный путь исходного файла
	SourcePath string `json:"sourcePath"`
	// OriginalFileName — исходное имя; пустое → base(SourcePath)
	OriginalFileName string `json:"originalFileName,omitempty"`
	// DisplayName — отображаемое имя ManagedFile (опционально)
	DisplayName string `json:"displayName,omitempty"`
	// PreserveOriginalName — сохранить исходное имя вместо семантического
	PreserveOriginalName bool   `json:"preserveOriginalName,omitempty"`
	Notes                string `json:"notes,omitempty"`
}

// FileName возвращает исходное имя файла с учётом значения по умолчанию.
func (c *ImportCommon) FileName() string {
	if c.OriginalFileName != "" {
		return c.OriginalFileName
	}
	if c.SourcePath == "" {
		return ""
	}
	return filepath.Base(c.SourcePath)
}

// CompetitionInfo — контекст конкурса для версии документа.
type CompetitionInfo struct {
	Series      string `json:"series"`
	Level       string `json:"level"`
	ProjectName string `json:"projectName,omitempty"`
}

// DocumentImport — импорт версии документа проекта.
type DocumentImport struct {
	ImportCommon
	ProjectID           string           `json:"projectId"`
	ProjectName         string           `json:"projectName"`
	LogicalDocumentName string           `json:"logicalDocumentName"`
	LogicalDocumentType string           `json:"logicalDocumentType"`
	VersionTag          string           `json:"versionTag"`
	LogicalDocumentID   string           `json:"logicalDocumentId,omitempty"`
	IsGenericVersion    bool             `json:"isGenericVersion,omitempty"`
	CompetitionInfo     *CompetitionInfo `json:"competitionInfo,omitempty"`
}

// AssetImport — импорт ресурса проекта.
type AssetImport struct {
	ImportCommon
	ProjectID   string `json:"projectId"`
	ProjectName string `json:"projectName"`
	AssetType   string `json:"assetType"`
	AssetName   string `json:"assetName"`
}

// ExpenseImport — импорт счёта по расходу проекта.
type ExpenseImport struct {
	ImportCommon
	ProjectID          string `json:"projectId"`
	ProjectName        string `json:"projectName"`
	ExpenseDescription string `json:"expenseDescription"`
	ApplicantName      string `json:"applicantName,omitempty"`
	// ExpenseID — если задан, файл прикрепляется как счёт к записи расхода
	ExpenseID string `json:"expenseId,omitempty"`
}

// SharedImport — импорт общего ресурса.
type SharedImport struct {
	ImportCommon
	ResourceType string            `json:"resourceType"`
	ResourceName string            `json:"resourceName"`
	CustomFields map[string]string `json:"customFields,omitempty"`
}

// CompetitionImport — импорт уведомления конкурса.
type CompetitionImport struct {
	ImportCommon
	SeriesName string `json:"seriesName"`
	LevelName  string `json:"levelName"`
	Year       string `json:"year,omitempty"`
	// MilestoneID — если задан, файл прикрепляется как уведомление этапа
	MilestoneID string `json:"milestoneId,omitempty"`
}

// InboxImport — импорт во входящие без семантического контекста.
type InboxImport struct {
	ImportCommon
}

func (r *DocumentImport) Kind() ResourceKind    { return KindDocument }
func (r *AssetImport) Kind() ResourceKind       { return KindAsset }
func (r *ExpenseImport) Kind() ResourceKind     { return KindExpense }
func (r *SharedImport) Kind() ResourceKind      { return KindShared }
func (r *CompetitionImport) Kind() ResourceKind { return KindCompetition }
func (r *InboxImport) Kind() ResourceKind       { return KindInbox }

func (r *DocumentImport) Common() *ImportCommon    { return &r.ImportCommon }
func (r *AssetImport) Common() *ImportCommon       { return &r.ImportCommon }
func (r *ExpenseImport) Common() *ImportCommon     { return &r.ImportCommon }
func (r *SharedImport) Common() *ImportCommon      { return &r.ImportCommon }
func (r *CompetitionImport) Common() *ImportCommon { return &r.ImportCommon }
func (r *InboxImport) Common() *ImportCommon       { return &r.ImportCommon }

func (*DocumentImport) importRequest()    {}
func (*AssetImport) importRequest()       {}
func (*ExpenseImport) importRequest()     {}
func (*SharedImport) importRequest()      {}
func (*CompetitionImport) importRequest() {}
func (*InboxImport) importRequest()       {}

// importEnvelope — JSON-конверт с дискриминантом importType.
type importEnvelope struct {
	ImportType ResourceKind `json:"importType"`
}

// DecodeImportRequest разбирает JSON-запрос импорта по полю importType.
func DecodeImportRequest(data []byte) (ImportRequest, error) {
	var env importEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("некорректный JSON запроса импорта: %w", err)
	}

	var req ImportRequest
	switch env.ImportType {
	case KindDocument:
		req = &DocumentImport{}
	case KindAsset:
		req = &AssetImport{}
	case KindExpense:
		req = &ExpenseImport{}
	case KindShared:
		req = &SharedImport{}
	case KindCompetition:
		req = &CompetitionImport{}
	case KindInbox:
		req = &InboxImport{}
	case "":
		return nil, fmt.Errorf("поле importType обязательно")
	default:
		return nil, fmt.Errorf("неизвестный importType: %q", env.ImportType)
	}

	if err := json.Unmarshal(data, req); err != nil {
		return nil, fmt.Errorf("некорректные поля запроса %s: %w", env.ImportType, err)
	}
	return req, nil
}

// DecodeImportBatch разбирает JSON-массив запросов импорта.
// Ошибка разбора отдельного элемента возвращается по индексу,
// остальные элементы при этом разбираются.
func DecodeImportBatch(data []byte) ([]ImportRequest, []error, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, nil, fmt.Errorf("ожидался JSON-массив запросов: %w", err)
	}

	reqs := make([]ImportRequest, len(raws))
	errs := make([]error, len(raws))
	for i, raw := range raws {
		reqs[i], errs[i] = DecodeImportRequest(raw)
	}
	return reqs, errs, nil
}
