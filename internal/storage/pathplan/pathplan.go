// Пакет pathplan — построение канонической директории хранения
// по виду импорта и его семантическому контексту.
//
// Раскладка относительно корня хранилища R:
//
//	Document:    R/Projects/{projectFolder}/{logicalDocumentName}/
//	Asset:       R/Projects/{projectFolder}/_Assets/{assetType}/
//	Expense:     R/Projects/{projectFolder}/_Expenses/{description}[_{applicant}]/
//	Shared:      R/SharedResources/{resourceType}/
//	Competition: R/Competitions/{seriesName}/{levelName}/
//	Inbox:       R/Inbox/{YYYY-MM-DD}/
//
// где projectFolder = Sanitize(projectName) + "_" + последние 8 символов projectId.
// Пакет не обращается к файловой системе.
package pathplan

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

const (
	// MaxSegmentLength — максимальная длина сегмента после Sanitize (в символах).
	MaxSegmentLength = 50
	// MaxPathLength — максимальная длина абсолютного пути (в символах).
	MaxPathLength = 260
	// projectIDSuffixLength — количество символов projectId в имени папки проекта.
	projectIDSuffixLength = 8
)

// Имена верхнеуровневых директорий хранилища.
const (
	DirProjects    = "Projects"
	DirAssets      = "_Assets"
	DirExpenses    = "_Expenses"
	DirShared      = "SharedResources"
	DirCompetition = "Competitions"
	DirInbox       = "Inbox"
)

// illegalSegmentChars — символы, заменяемые в сегментах пути и именах.
const illegalSegmentChars = `/\:*?"<>|`

// illegalPathChars — символы, недопустимые в абсолютном пути.
const illegalPathChars = `<>:"|?*`

// ErrInvalidPath — путь не проходит проверку (длина, символы, не абсолютный).
var ErrInvalidPath = errors.New("недопустимый путь")

// InvalidError — ошибка построения или проверки пути с указанием поля запроса.
type InvalidError struct {
	Field  string
	Reason string
}

func (e *InvalidError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("недопустимый путь (%s): %s", e.Field, e.Reason)
	}
	return "недопустимый путь: " + e.Reason
}

// Unwrap позволяет проверять ошибку через errors.Is(err, ErrInvalidPath).
func (e *InvalidError) Unwrap() error {
	return ErrInvalidPath
}

// Plan — результат планирования.
type Plan struct {
	// Dir — абсолютный путь целевой директории
	Dir string
	// RelativeDir — путь относительно корня хранилища (через "/")
	RelativeDir string
}

// Planner строит целевые директории относительно корня хранилища.
type Planner struct {
	root string
	now  func() time.Time
}

// Option — функциональная опция Planner.
type Option func(*Planner)

// WithClock задаёт источник времени для даты директории Inbox.
func WithClock(now func() time.Time) Option {
	return func(p *Planner) {
		p.now = now
	}
}

// New создаёт Planner с корнем root.
func New(root string, opts ...Option) *Planner {
	p := &Planner{
		root: filepath.Clean(root),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Root возвращает корень хранилища.
func (p *Planner) Root() string {
	return p.root
}

// Plan возвращает каноническую директорию для запроса импорта.
// Ошибки построения удовлетворяют errors.Is(err, ErrInvalidPath);
// любая другая ошибка означает неизвестный вид запроса.
func (p *Planner) Plan(req model.ImportRequest) (*Plan, error) {
	segments, err := p.segments(req)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(append([]string{p.root}, segments...)...)
	if err := ValidatePath(dir); err != nil {
		return nil, err
	}

	return &Plan{
		Dir:         dir,
		RelativeDir: strings.Join(segments, "/"),
	}, nil
}

// segments возвращает сегменты пути относительно корня.
func (p *Planner) segments(req model.ImportRequest) ([]string, error) {
	switch r := req.(type) {
	case *model.DocumentImport:
		pf, err := projectFolder(r.ProjectName, r.ProjectID)
		if err != nil {
			return nil, err
		}
		doc, err := segment("logicalDocumentName", r.LogicalDocumentName)
		if err != nil {
			return nil, err
		}
		return []string{DirProjects, pf, doc}, nil

	case *model.AssetImport:
		pf, err := projectFolder(r.ProjectName, r.ProjectID)
		if err != nil {
			return nil, err
		}
		at, err := segment("assetType", r.AssetType)
		if err != nil {
			return nil, err
		}
		return []string{DirProjects, pf, DirAssets, at}, nil

	case *model.ExpenseImport:
		pf, err := projectFolder(r.ProjectName, r.ProjectID)
		if err != nil {
			return nil, err
		}
		desc, err := segment("expenseDescription", r.ExpenseDescription)
		if err != nil {
			return nil, err
		}
		if applicant := Sanitize(r.ApplicantName); applicant != "" {
			desc += "_" + applicant
		}
		return []string{DirProjects, pf, DirExpenses, desc}, nil

	case *model.SharedImport:
		rt, err := segment("resourceType", r.ResourceType)
		if err != nil {
			return nil, err
		}
		return []string{DirShared, rt}, nil

	case *model.CompetitionImport:
		series, err := segment("seriesName", r.SeriesName)
		if err != nil {
			return nil, err
		}
		level, err := segment("levelName", r.LevelName)
		if err != nil {
			return nil, err
		}
		return []string{DirCompetition, series, level}, nil

	case *model.InboxImport:
		return []string{DirInbox, p.now().UTC().Format(time.DateOnly)}, nil

	default:
		return nil, fmt.Errorf("неизвестный вид запроса импорта: %T", req)
	}
}

// ProjectFolder возвращает имя папки проекта: Sanitize(name) + "_" + last8(id).
func ProjectFolder(projectName, projectID string) string {
	return Sanitize(projectName) + "_" + Sanitize(lastRunes(projectID, projectIDSuffixLength))
}

func projectFolder(projectName, projectID string) (string, error) {
	if _, err := segment("projectName", projectName); err != nil {
		return "", err
	}
	if _, err := segment("projectId", lastRunes(projectID, projectIDSuffixLength)); err != nil {
		return "", err
	}
	return ProjectFolder(projectName, projectID), nil
}

// segment очищает значение поля и проверяет, что результат пригоден как имя директории.
func segment(field, value string) (string, error) {
	s := Sanitize(value)
	switch s {
	case "":
		return "", &InvalidError{Field: field, Reason: "после очистки значение пустое"}
	case ".", "..":
		return "", &InvalidError{Field: field, Reason: fmt.Sprintf("сегмент %q недопустим", s)}
	}
	return s, nil
}

// Sanitize приводит строку к безопасному сегменту пути:
// символы / \ : * ? " < > |, пробельные и управляющие символы заменяются на "_",
// повторяющиеся "_" схлопываются, "_" по краям удаляются,
// результат обрезается до MaxSegmentLength символов.
// Функция детерминирована и идемпотентна.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	prevUnderscore := false
	for _, r := range s {
		if isIllegalRune(r) || r == '_' {
			if !prevUnderscore {
				b.WriteByte('_')
			}
			prevUnderscore = true
			continue
		}
		b.WriteRune(r)
		prevUnderscore = false
	}

	out := strings.Trim(b.String(), "_")
	if utf8.RuneCountInString(out) > MaxSegmentLength {
		out = strings.TrimRight(string([]rune(out)[:MaxSegmentLength]), "_")
	}
	return out
}

// IsIllegalNameRune сообщает, недопустим ли символ в имени файла или сегменте.
func IsIllegalNameRune(r rune) bool {
	return strings.ContainsRune(illegalSegmentChars, r) || unicode.IsControl(r)
}

func isIllegalRune(r rune) bool {
	return IsIllegalNameRune(r) || unicode.IsSpace(r)
}

// ValidatePath проверяет абсолютный путь: длина не более MaxPathLength символов,
// отсутствие символов < > : " | ? * (имя тома Windows не учитывается), абсолютность.
func ValidatePath(path string) error {
	if n := utf8.RuneCountInString(path); n > MaxPathLength {
		return &InvalidError{Reason: fmt.Sprintf("длина пути %d превышает %d", n, MaxPathLength)}
	}
	if !filepath.IsAbs(path) {
		return &InvalidError{Reason: fmt.Sprintf("путь %q не является абсолютным", path)}
	}
	rest := path[len(filepath.VolumeName(path)):]
	if i := strings.IndexAny(rest, illegalPathChars); i >= 0 {
		return &InvalidError{Reason: fmt.Sprintf("путь содержит недопустимый символ %q", rest[i])}
	}
	return nil
}

// lastRunes возвращает последние n символов строки (или всю строку, если она короче).
func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}
