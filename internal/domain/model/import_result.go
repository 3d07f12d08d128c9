package model

import "fmt"

// Коды доменных ошибок импорта.
const (
	CodeValidationError         = "VALIDATION_ERROR"
	CodeSourceNotFound          = "SOURCE_NOT_FOUND"
	CodeUnsupportedFileType     = "UNSUPPORTED_FILE_TYPE"
	CodeDirectoryCreationFailed = "DIRECTORY_CREATION_FAILED"
	CodePathInvalid             = "PATH_INVALID"
	CodeCopyFailed              = "COPY_FAILED"
	CodeIntegrityMismatch       = "INTEGRITY_MISMATCH"
	CodeMetadataConflict        = "METADATA_CONFLICT"
	CodeFileInUse               = "FILE_IN_USE"
	CodeInternalError           = "INTERNAL_ERROR"
)

// ImportError — доменная ошибка или предупреждение импорта.
// Возвращается в результате, а не через error.
type ImportError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e ImportError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ImportResult — результат импорта одного файла.
type ImportResult struct {
	Success           bool          `json:"success"`
	ManagedFileID     string        `json:"managedFileId,omitempty"`
	FinalPath         string        `json:"finalPath,omitempty"`
	RelativePath      string        `json:"relativePath,omitempty"`
	GeneratedFileName string        `json:"generatedFileName,omitempty"`
	LogicalDocumentID string        `json:"logicalDocumentId,omitempty"`
	DocumentVersionID string        `json:"documentVersionId,omitempty"`
	Deduplicated      bool          `json:"deduplicated,omitempty"`
	Errors            []ImportError `json:"errors,omitempty"`
	Warnings          []ImportError `json:"warnings,omitempty"`
}

// FailedResult создаёт неуспешный результат с набором ошибок.
func FailedResult(errs []ImportError, warnings []ImportError) *ImportResult {
	return &ImportResult{Success: false, Errors: errs, Warnings: warnings}
}

// PreviewResult — план импорта без побочных эффектов.
type PreviewResult struct {
	GeneratedFileName string        `json:"generatedFileName"`
	TargetPath        string        `json:"targetPath"`
	RelativePath      string        `json:"relativePath"`
	FullPath          string        `json:"fullPath"`
	IsValid           bool          `json:"isValid"`
	Errors            []ImportError `json:"errors"`
	Warnings          []ImportError `json:"warnings"`
}
