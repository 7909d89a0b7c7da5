package classify

import (
	"os"
	"path/filepath"
	"testing"
)

func TestClassify(t *testing.T) {
	rules := DefaultRules()

	cases := []struct {
		name     string
		filename string
		caption  string
		want     Route
	}{
		{"checker keyword", "report_анти.docx", "", RouteChecker},
		{"checker keyword rewrite", "рерайт_глава3.doc", "", RouteChecker},
		{"plain chapter goes to editor", "chapter1.docx", "", RouteEditor},
		{"payment dropped", "payment_receipt.pdf", "", RouteDrop},
		{"receipt dropped", "receipt_2024.docx", "", RouteDrop},
		{"cyrillic payment dropped", "документ_об_оплате.pdf", "", RouteDrop},
		{"completed marker exempts drop", "документ_выполнен.pdf", "", RouteEditor},
		{"unaccepted extension ignored", "photo.jpg", "", RouteIgnore},
		{"no extension ignored", "notes", "", RouteIgnore},
		{"payment wins over checker", "payment_анти.docx", "", RouteDrop},
		{"caption does not change routing", "chapter2.docx", "ссылкой", RouteEditor},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := rules.Classify(tc.filename, tc.caption); got != tc.want {
				t.Fatalf("Classify(%q, %q) = %v, want %v", tc.filename, tc.caption, got, tc.want)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	rules := DefaultRules()
	first := rules.Classify("глава_анти.docx", "ссылкой")
	for i := 0; i < 5; i++ {
		if got := rules.Classify("глава_анти.docx", "ссылкой"); got != first {
			t.Fatalf("classification changed between calls: %v vs %v", first, got)
		}
	}
}

func TestAcceptsReply(t *testing.T) {
	rules := DefaultRules()
	if !rules.AcceptsReply("chapter1_fixed.txt") {
		t.Fatalf("editor .txt reply must be accepted")
	}
	if rules.AcceptsReply("voice.ogg") {
		t.Fatalf("unaccepted reply extension must be rejected")
	}
}

func TestCaptionFlags(t *testing.T) {
	rules := DefaultRules()
	if !rules.LinkOnly("отправь ссылкой пожалуйста") {
		t.Fatalf("LinkOnly must detect the marker")
	}
	if rules.LinkOnly("") {
		t.Fatalf("empty caption is not link-only")
	}
	if !rules.RewriteReport("рерайт_глава.docx", "любая подпись") {
		t.Fatalf("RewriteReport must trigger on marker in filename with caption present")
	}
	if rules.RewriteReport("рерайт_глава.docx", "") {
		t.Fatalf("RewriteReport requires a caption")
	}
	if rules.RewriteReport("chapter.docx", "подпись") {
		t.Fatalf("RewriteReport must not trigger without the marker")
	}
}

func TestLoadRulesMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := "checker_keywords:\n  - custom\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	rules, err := LoadRules(path)
	if err != nil {
		t.Fatalf("LoadRules() error = %v", err)
	}
	if got := rules.Classify("custom_file.docx", ""); got != RouteChecker {
		t.Fatalf("overridden checker keyword not applied, got %v", got)
	}
	if got := rules.Classify("payment.pdf", ""); got != RouteDrop {
		t.Fatalf("default payment keywords must survive a partial override, got %v", got)
	}
}

func TestLoadRulesMissingFile(t *testing.T) {
	if _, err := LoadRules(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing rules file")
	}
}
