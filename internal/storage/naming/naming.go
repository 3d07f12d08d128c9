// Пакет naming — построение семантических имён файлов по виду импорта
// и разрешение коллизий имён в целевой директории.
package naming

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
	"github.com/bigkaa/goartstore/archive-module/internal/storage/pathplan"
)

const (
	// MaxNameLength — максимальная длина имени файла в байтах.
	MaxNameLength = 255
	// minBaseRunes — нижняя граница длины основы имени при укорачивании.
	minBaseRunes = 8
	// fallbackBase — основа имени, если после очистки ничего не осталось.
	fallbackBase = "file"
)

// ErrInvalidName — имя файла не проходит проверку.
var ErrInvalidName = errors.New("недопустимое имя файла")

// documentTypeAbbr — сокращения типов логических документов.
var documentTypeAbbr = map[string]string{
	"business_plan":      "BP",
	"pitch_deck":         "PD",
	"project_proposal":   "PP",
	"project_report":     "PR",
	"financial_report":   "FR",
	"technical_document": "TD",
	"presentation":       "PPT",
	"contract":           "CT",
	"certificate":        "CERT",
	"meeting_minutes":    "MM",
	"award_certificate":  "AC",
	"other":              "DOC",
}

// assetTypeAbbr — сокращения типов ресурсов проекта.
var assetTypeAbbr = map[string]string{
	"logo":        "LOGO",
	"image":       "IMG",
	"photo":       "PHOTO",
	"video":       "VID",
	"audio":       "AUD",
	"design":      "DSN",
	"document":    "DOC",
	"source_code": "SRC",
	"other":       "AST",
}

// DocumentTypeAbbr возвращает сокращение типа документа.
// Для неизвестного типа — очищенный тип в верхнем регистре.
func DocumentTypeAbbr(docType string) string {
	return abbr(documentTypeAbbr, docType)
}

// AssetTypeAbbr возвращает сокращение типа ресурса.
func AssetTypeAbbr(assetType string) string {
	return abbr(assetTypeAbbr, assetType)
}

func abbr(table map[string]string, key string) string {
	if a, ok := table[strings.ToLower(strings.TrimSpace(key))]; ok {
		return a
	}
	return strings.ToUpper(pathplan.Sanitize(key))
}

// Synthesize строит семантическое имя файла для запроса импорта.
// Расширение берётся из исходного имени без изменений, включая регистр.
//
//	Document:    {abbr}_{versionTag}[_{series}_{level}][_{projectName}]{ext}
//	Asset:       {assetAbbr}_{assetName}{ext}
//	Shared:      {resourceType}_{resourceName}{ext}
//	Competition: {series}_{level}[_{year}]{ext}
//	Expense, Inbox и PreserveOriginalName: очищенное исходное имя
func Synthesize(req model.ImportRequest) (string, error) {
	common := req.Common()
	base, ext := SplitExt(common.FileName())

	if common.PreserveOriginalName {
		return build(cleanBase(base), ext), nil
	}

	var parts []string
	switch r := req.(type) {
	case *model.DocumentImport:
		parts = []string{DocumentTypeAbbr(r.LogicalDocumentType), pathplan.Sanitize(r.VersionTag)}
		if ci := r.CompetitionInfo; ci != nil && !r.IsGenericVersion {
			if ci.Series != "" && ci.Level != "" {
				parts = append(parts, pathplan.Sanitize(ci.Series), pathplan.Sanitize(ci.Level))
			}
			if ci.ProjectName != "" {
				parts = append(parts, pathplan.Sanitize(ci.ProjectName))
			}
		}
	case *model.AssetImport:
		parts = []string{AssetTypeAbbr(r.AssetType), pathplan.Sanitize(r.AssetName)}
	case *model.SharedImport:
		parts = []string{pathplan.Sanitize(r.ResourceType), pathplan.Sanitize(r.ResourceName)}
	case *model.CompetitionImport:
		parts = []string{pathplan.Sanitize(r.SeriesName), pathplan.Sanitize(r.LevelName), pathplan.Sanitize(r.Year)}
	case *model.ExpenseImport, *model.InboxImport:
		return build(cleanBase(base), ext), nil
	default:
		return "", fmt.Errorf("неизвестный вид запроса импорта: %T", req)
	}

	return build(joinNonEmpty(parts), ext), nil
}

// ResolveUnique возвращает desired, если имя свободно, иначе первое свободное
// имя вида base_N.ext (N = 1, 2, …). Сравнение регистронезависимое.
// Расширение не изменяется; основа укорачивается только ради лимита длины.
func ResolveUnique(desired string, existing []string) string {
	taken := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		taken[strings.ToLower(name)] = struct{}{}
	}

	if _, ok := taken[strings.ToLower(desired)]; !ok {
		return desired
	}

	base, ext := SplitExt(desired)
	for i := 1; ; i++ {
		suffix := "_" + strconv.Itoa(i)
		candidate := fitBase(base, suffix+ext) + suffix + ext
		if _, ok := taken[strings.ToLower(candidate)]; !ok {
			return candidate
		}
	}
}

// ValidateName проверяет имя файла: не пустое, не длиннее MaxNameLength байт,
// без символов / \ : * ? " < > | и управляющих символов.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: пустое имя", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case len(name) > MaxNameLength:
		return fmt.Errorf("%w: длина %d байт превышает %d", ErrInvalidName, len(name), MaxNameLength)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: некорректная кодировка UTF-8", ErrInvalidName)
	}
	for _, r := range name {
		if pathplan.IsIllegalNameRune(r) {
			return fmt.Errorf("%w: недопустимый символ %q", ErrInvalidName, r)
		}
	}
	return nil
}

// SplitExt делит имя на основу и расширение (с точкой).
// Имя из одного расширения (".env") считается основой без расширения.
func SplitExt(name string) (base, ext string) {
	ext = filepath.Ext(name)
	if ext == name {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), ext
}

// build собирает имя из основы и расширения с учётом лимита длины.
func build(base, ext string) string {
	if base == "" {
		base = fallbackBase
	}
	return fitBase(base, ext) + ext
}

// fitBase укорачивает основу по символам так, чтобы base+tail уложилось
// в MaxNameLength байт, но не короче minBaseRunes символов.
func fitBase(base, tail string) string {
	if len(base)+len(tail) <= MaxNameLength {
		return base
	}
	runes := []rune(base)
	for len(runes) > minBaseRunes && len(string(runes))+len(tail) > MaxNameLength {
		runes = runes[:len(runes)-1]
	}
	return strings.TrimRight(string(runes), "_")
}

// cleanBase очищает исходную основу имени; ведущие точки удаляются,
// чтобы управляемый файл не стал скрытым.
func cleanBase(base string) string {
	return strings.Trim(strings.TrimLeft(pathplan.Sanitize(base), "."), "_")
}

func joinNonEmpty(parts []string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "_")
}
