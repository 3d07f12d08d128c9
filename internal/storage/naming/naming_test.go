package naming

import (
	"errors"
	"strings"
	"testing"

	"github.com/bigkaa/goartstore/archive-module/internal/domain/model"
)

func withName(name string) model.ImportCommon {
	return model.ImportCommon{SourcePath: "/tmp/" + name, OriginalFileName: name}
}

// TestSynthesize проверяет шаблоны имён для всех видов импорта.
func TestSynthesize(t *testing.T) {
	tests := []struct {
		name string
		req  model.ImportRequest
		want string
	}{
		{
			"document: сквозной пример",
			&model.DocumentImport{
				ImportCommon:        model.ImportCommon{SourcePath: "/tmp/report.docx"},
				ProjectID:           "abcdef0123456789",
				ProjectName:         "智慧城市",
				LogicalDocumentName: "商业计划书",
				LogicalDocumentType: "business_plan",
				VersionTag:          "v1",
			},
			"BP_v1.docx",
		},
		{
			"document с конкурсом",
			&model.DocumentImport{
				ImportCommon:        withName("deck.PPTX"),
				LogicalDocumentType: "pitch_deck",
				VersionTag:          "v2",
				CompetitionInfo:     &model.CompetitionInfo{Series: "Challenge Cup", Level: "National", ProjectName: "Smart City"},
			},
			"PD_v2_Challenge_Cup_National_Smart_City.PPTX",
		},
		{
			"document: общая версия без конкурсной части",
			&model.DocumentImport{
				ImportCommon:        withName("deck.pdf"),
				LogicalDocumentType: "pitch_deck",
				VersionTag:          "final",
				IsGenericVersion:    true,
				CompetitionInfo:     &model.CompetitionInfo{Series: "Cup", Level: "City"},
			},
			"PD_final.pdf",
		},
		{
			"document: неизвестный тип",
			&model.DocumentImport{ImportCommon: withName("a.txt"), LogicalDocumentType: "white paper", VersionTag: "v1"},
			"WHITE_PAPER_v1.txt",
		},
		{
			"asset",
			&model.AssetImport{ImportCommon: withName("IMG_0001.PNG"), AssetType: "logo", AssetName: "Main Logo"},
			"LOGO_Main_Logo.PNG",
		},
		{
			"shared",
			&model.SharedImport{ImportCommon: withName("x.docx"), ResourceType: "template", ResourceName: "Cover letter"},
			"template_Cover_letter.docx",
		},
		{
			"competition с годом",
			&model.CompetitionImport{ImportCommon: withName("notice.pdf"), SeriesName: "Cup", LevelName: "Final", Year: "2024"},
			"Cup_Final_2024.pdf",
		},
		{
			"competition без года",
			&model.CompetitionImport{ImportCommon: withName("notice.pdf"), SeriesName: "Cup", LevelName: "Final"},
			"Cup_Final.pdf",
		},
		{
			"expense: исходное имя",
			&model.ExpenseImport{ImportCommon: withName("Invoice 42 (march).PDF"), ExpenseDescription: "Travel"},
			"Invoice_42_(march).PDF",
		},
		{
			"inbox: исходное имя",
			&model.InboxImport{ImportCommon: withName("scan.jpeg")},
			"scan.jpeg",
		},
		{
			"inbox: имя из запрещённых символов",
			&model.InboxImport{ImportCommon: withName("???.txt")},
			"file.txt",
		},
		{
			"preserveOriginalName",
			&model.AssetImport{
				ImportCommon: model.ImportCommon{SourcePath: "/tmp/My Logo.svg", PreserveOriginalName: true},
				AssetType:    "logo",
				AssetName:    "main",
			},
			"My_Logo.svg",
		},
		{
			"без расширения",
			&model.InboxImport{ImportCommon: withName("README")},
			"README",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Synthesize(tt.req)
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if got != tt.want {
				t.Errorf("ожидалось %q, получено %q", tt.want, got)
			}
			if err := ValidateName(got); err != nil {
				t.Errorf("синтезированное имя не проходит проверку: %v", err)
			}
		})
	}
}

// TestSynthesize_KeepsExtensionCase проверяет, что регистр расширения
// исходного файла сохраняется во всех видах импорта.
func TestSynthesize_KeepsExtensionCase(t *testing.T) {
	tests := []struct {
		name string
		req  model.ImportRequest
		want string
	}{
		{"inbox", &model.InboxImport{ImportCommon: withName("Scan.PDF")}, "Scan.PDF"},
		{"expense", &model.ExpenseImport{ImportCommon: withName("Scan.PDF"), ExpenseDescription: "Taxi"}, "Scan.PDF"},
		{"expense с пробелами", &model.ExpenseImport{ImportCommon: withName("Inv 01.JPG")}, "Inv_01.JPG"},
		{"shared", &model.SharedImport{ImportCommon: withName("t.DocX"), ResourceType: "template", ResourceName: "cv"}, "template_cv.DocX"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Synthesize(tt.req)
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if got != tt.want {
				t.Errorf("ожидалось %q, получено %q", tt.want, got)
			}
		})
	}

	// x.PDF и x.pdf считаются одним именем
	if got := ResolveUnique("Scan.PDF", []string{"scan.pdf"}); got != "Scan_1.PDF" {
		t.Errorf("ResolveUnique() = %q, хотели Scan_1.PDF", got)
	}
}

// TestSynthesize_LongName проверяет укорачивание длинных имён с сохранением расширения.
func TestSynthesize_LongName(t *testing.T) {
	req := &model.InboxImport{ImportCommon: withName(strings.Repeat("文", 40) + strings.Repeat("字", 60) + ".pdf")}

	got, err := Synthesize(req)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(got) > MaxNameLength {
		t.Errorf("длина %d превышает %d", len(got), MaxNameLength)
	}
	if !strings.HasSuffix(got, ".pdf") {
		t.Errorf("расширение должно сохраниться: %s", got)
	}
}

// TestResolveUnique проверяет разрешение коллизий.
func TestResolveUnique(t *testing.T) {
	tests := []struct {
		name     string
		desired  string
		existing []string
		want     string
	}{
		{"свободное имя", "report.pdf", []string{"other.pdf"}, "report.pdf"},
		{"пустая директория", "report.pdf", nil, "report.pdf"},
		{"первая коллизия", "report.pdf", []string{"report.pdf"}, "report_1.pdf"},
		{"несколько коллизий", "report.pdf", []string{"report.pdf", "report_1.pdf", "report_2.pdf"}, "report_3.pdf"},
		{"пропуск занятого номера", "report.pdf", []string{"report.pdf", "report_2.pdf"}, "report_1.pdf"},
		{"регистронезависимо", "BP_v1.docx", []string{"bp_v1.DOCX"}, "BP_v1_1.docx"},
		{"без расширения", "README", []string{"README"}, "README_1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveUnique(tt.desired, tt.existing); got != tt.want {
				t.Errorf("ожидалось %q, получено %q", tt.want, got)
			}
		})
	}
}

// TestResolveUnique_LongName проверяет, что суффикс помещается в лимит длины.
func TestResolveUnique_LongName(t *testing.T) {
	desired := strings.Repeat("a", MaxNameLength-4) + ".pdf"
	got := ResolveUnique(desired, []string{desired})

	if len(got) > MaxNameLength {
		t.Errorf("длина %d превышает %d", len(got), MaxNameLength)
	}
	if !strings.HasSuffix(got, "_1.pdf") {
		t.Errorf("ожидался суффикс _1.pdf: %s", got)
	}
}

// TestValidateName проверяет ограничения имени файла.
func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		wantErr bool
	}{
		{"корректное", "BP_v1.docx", false},
		{"юникод", "商业计划书.pdf", false},
		{"пустое", "", true},
		{"точка-точка", "..", true},
		{"слеш", "a/b.pdf", true},
		{"обратный слеш", `a\b.pdf`, true},
		{"звёздочка", "a*.pdf", true},
		{"управляющий символ", "a\x00.pdf", true},
		{"слишком длинное", strings.Repeat("a", MaxNameLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q): ошибка = %v, ожидалась ошибка = %v", tt.in, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidName) {
				t.Errorf("ошибка должна оборачивать ErrInvalidName: %v", err)
			}
		})
	}
}

// TestDocumentTypeAbbr проверяет таблицу сокращений.
func TestDocumentTypeAbbr(t *testing.T) {
	cases := map[string]string{
		"business_plan":     "BP",
		"Business_Plan":     "BP",
		"meeting_minutes":   "MM",
		"award_certificate": "AC",
		"other":             "DOC",
		"custom":            "CUSTOM",
	}
	for in, want := range cases {
		if got := DocumentTypeAbbr(in); got != want {
			t.Errorf("DocumentTypeAbbr(%q) = %q, ожидалось %q", in, got, want)
		}
	}
	if got := AssetTypeAbbr("source_code"); got != "SRC" {
		t.Errorf("AssetTypeAbbr(source_code) = %q, ожидалось SRC", got)
	}
}
