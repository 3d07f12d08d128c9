package model

import "time"

// LogicalDocument — логический документ проекта (например, «Бизнес-план»),
// объединяющий версии. Уникален по (ProjectID, Name, Type).
type LogicalDocument struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentVersion — версия логического документа.
// Ссылается ровно на один ManagedFile; один файл не может
// обслуживать две версии (unique managed_file_id, ON DELETE RESTRICT).
type DocumentVersion struct {
	ID                     string    `json:"id"`
	LogicalDocumentID      string    `json:"logical_document_id"`
	ManagedFileID          string    `json:"managed_file_id"`
	VersionTag             string    `json:"version_tag"`
	IsGenericVersion       bool      `json:"is_generic_version"`
	CompetitionSeries      string    `json:"competition_series,omitempty"`
	CompetitionLevel       string    `json:"competition_level,omitempty"`
	CompetitionProjectName string    `json:"competition_project_name,omitempty"`
	Notes                  string    `json:"notes,omitempty"`
	CreatedAt              time.Time `json:"created_at"`
}

// ProjectAsset — ресурс проекта (логотип, фото, видео…), ON DELETE RESTRICT.
type ProjectAsset struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	Name          string    `json:"name"`
	AssetType     string    `json:"asset_type"`
	ManagedFileID string    `json:"managed_file_id"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SharedResource — общий ресурс вне проектов (шаблоны, справки), ON DELETE RESTRICT.
type SharedResource struct {
	ID            string            `json:"id"`
	ResourceType  string            `json:"resource_type"`
	Name          string            `json:"name"`
	ManagedFileID string            `json:"managed_file_id"`
	CustomFields  map[string]string `json:"custom_fields,omitempty"`
	Notes         string            `json:"notes,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}
