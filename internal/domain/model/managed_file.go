// Пакет model — доменные модели Archive Module.
// ManagedFile — единица физического хранения: один файл на диске
// под корнем хранилища и одна запись в реестре метаданных.
package model

import (
	"path/filepath"
	"strings"
	"time"
)

// ManagedFile — запись реестра о физически сохранённом файле.
//
// Инварианты:
//   - не более одной записи на PhysicalPath
//   - не более одной записи на FileHash (дедупликация по содержимому)
//   - FileHash и FileSizeBytes не меняются после создания
type ManagedFile struct {
	// ID — уникальный идентификатор (UUID v4)
	ID string `json:"id"`

	// Name — отображаемое имя
	Name string `json:"name"`

	// OriginalFileName — имя исходного файла при импорте
	OriginalFileName string `json:"original_file_name"`

	// PhysicalPath — абсолютный путь файла на диске, глобально уникален
	PhysicalPath string `json:"physical_path"`

	// FileHash — SHA-256 содержимого (hex). nil, пока не вычислен.
	FileHash *string `json:"file_hash,omitempty"`

	// MimeType — MIME-тип по расширению
	MimeType string `json:"mime_type"`

	// FileSizeBytes — размер содержимого в байтах
	FileSizeBytes int64 `json:"file_size_bytes"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Hash возвращает хэш содержимого или пустую строку, если он не записан.
func (f *ManagedFile) Hash() string {
	if f.FileHash == nil {
		return ""
	}
	return *f.FileHash
}

// RelativePath возвращает путь файла относительно корня хранилища
// в формате со слэшами. Если файл лежит вне корня — возвращает PhysicalPath.
func (f *ManagedFile) RelativePath(root string) string {
	return RelativeTo(root, f.PhysicalPath)
}

// RelativeTo вычисляет путь относительно root в формате со слэшами.
// Для путей вне root возвращает исходный путь без изменений.
func RelativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(rel)
}

// IntegrityStatus — результат проверки целостности ManagedFile.
// Три состояния намеренно не сводятся к bool.
type IntegrityStatus string

const (
	// IntegrityIntact — хэш совпадает или никогда не записывался
	IntegrityIntact IntegrityStatus = "intact"
	// IntegrityModified — пересчитанный хэш отличается от сохранённого
	IntegrityModified IntegrityStatus = "modified"
	// IntegrityMissing — файл отсутствует по PhysicalPath
	IntegrityMissing IntegrityStatus = "missing"
)

// IntegrityReport — подробный результат проверки целостности.
type IntegrityReport struct {
	FileID       string          `json:"file_id"`
	Status       IntegrityStatus `json:"status"`
	PhysicalPath string          `json:"physical_path"`
	ExpectedHash string          `json:"expected_hash,omitempty"`
	ActualHash   string          `json:"actual_hash,omitempty"`
	CheckedAt    time.Time       `json:"checked_at"`
}
