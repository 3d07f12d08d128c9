package contentstore

import (
	"mime"
	"path/filepath"
	"strings"
)

// DefaultMimeType — тип содержимого для неизвестных расширений.
const DefaultMimeType = "application/octet-stream"

// supportedTypes — поддерживаемые расширения и их MIME-типы.
// Импорт файлов с другими расширениями допускается с предупреждением.
var supportedTypes = map[string]string{
	// Документы
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".odp":  "application/vnd.oasis.opendocument.presentation",
	".rtf":  "application/rtf",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".csv":  "text/csv",
	".json": "application/json",
	".xml":  "application/xml",

	// Изображения
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".svg":  "image/svg+xml",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
	".ai":   "application/postscript",
	".psd":  "image/vnd.adobe.photoshop",

	// Аудио и видео
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".m4a": "audio/mp4",
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".avi": "video/x-msvideo",
	".mkv": "video/x-matroska",

	// Архивы
	".zip": "application/zip",
	".rar": "application/vnd.rar",
	".7z":  "application/x-7z-compressed",
}

// DetectMIME определяет MIME-тип по расширению имени файла.
// supported == false означает, что расширение не входит в список
// поддерживаемых; тип тогда берётся из системной таблицы или DefaultMimeType.
func DetectMIME(fileName string) (mimeType string, supported bool) {
	ext := strings.ToLower(filepath.Ext(fileName))
	if t, ok := supportedTypes[ext]; ok {
		return t, true
	}
	if ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t, false
		}
	}
	return DefaultMimeType, false
}
