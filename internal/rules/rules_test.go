package rules

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestProtocolURLAcrossTerms(t *testing.T) {
	reg := NewRegistry()
	rule, err := reg.Get("protocol_en_pdf")
	if err != nil {
		t.Fatalf("Get(protocol_en_pdf) failed: %v", err)
	}

	cases := []struct {
		date time.Time
		want string
	}{
		{date(2019, 8, 1), "https://europarl.europa.eu/doceo/document/PV-9-2019-08-01_EN.pdf"},
		{date(2014, 8, 1), "https://europarl.europa.eu/doceo/document/PV-8-2014-08-01_EN.pdf"},
		{date(2009, 8, 1), "https://europarl.europa.eu/doceo/document/PV-7-2009-08-01_EN.pdf"},
		{date(2004, 8, 1), "https://europarl.europa.eu/doceo/document/PV-6-2004-08-01_EN.pdf"},
		{date(1999, 8, 1), "https://europarl.europa.eu/doceo/document/PV-5-1999-08-01_EN.pdf"},
		{date(1994, 8, 1), "https://europarl.europa.eu/doceo/document/PV-4-1994-08-01_EN.pdf"},
		{date(1989, 8, 1), "https://europarl.europa.eu/doceo/document/PV-3-1989-08-01_EN.pdf"},
		{date(1984, 8, 1), "https://europarl.europa.eu/doceo/document/PV-2-1984-08-01_EN.pdf"},
		{date(1979, 8, 1), "https://europarl.europa.eu/doceo/document/PV-1-1979-08-01_EN.pdf"},
		{date(1950, 8, 1), "https://europarl.europa.eu/doceo/document/PV-0-1950-08-01_EN.pdf"},
		{date(2025, 8, 1), "https://europarl.europa.eu/doceo/document/PV-0-2025-08-01_EN.pdf"},
	}
	for _, tc := range cases {
		if got := rule.URL(tc.date); got != tc.want {
			t.Errorf("URL(%s) = %q, want %q", tc.date.Format(DateFormat), got, tc.want)
		}
	}
}

func TestURLGrammarPerFamily(t *testing.T) {
	reg := NewRegistry()
	d := date(2019, 8, 1)

	cases := []struct {
		rule string
		want string
	}{
		{"protocol_en_html", "https://europarl.europa.eu/doceo/document/PV-9-2019-08-01_EN.html"},
		{"protocol_de_pdf", "https://europarl.europa.eu/doceo/document/PV-9-2019-08-01_DE.pdf"},
		{"word_protocol_en_pdf", "https://europarl.europa.eu/doceo/document/CRE-9-2019-08-01_EN.pdf"},
		{"word_protocol_de_html", "https://europarl.europa.eu/doceo/document/CRE-9-2019-08-01_DE.html"},
		{"agenda_en_pdf", "https://europarl.europa.eu/doceo/document/OJ-9-2019-08-01_EN.pdf"},
		{"agenda_de_html", "https://europarl.europa.eu/doceo/document/OJ-9-2019-08-01_DE.html"},
		{"daily_agenda_en_html", "https://europarl.europa.eu/doceo/document/OJQ-9-2019-08-01_EN.html"},
		{"daily_agenda_de_pdf", "https://europarl.europa.eu/doceo/document/OJQ-9-2019-08-01_DE.pdf"},
		{"voting_overview_en_pdf", "https://europarl.europa.eu/doceo/document/PV-9-2019-08-01-VOT_EN.pdf"},
		{"voting_overview_de_html", "https://europarl.europa.eu/doceo/document/PV-9-2019-08-01-VOT_DE.html"},
		{"named_voting_en_html", "https://europarl.europa.eu/doceo/document/PV-9-2019-08-01-RCV_EN.html"},
		{"named_voting_de_pdf", "https://europarl.europa.eu/doceo/document/PV-9-2019-08-01-RCV_DE.pdf"},
		{"session_day", "https://europarl.europa.eu/doceo/document/PV-9-2019-08-01_EN.pdf"},
	}
	for _, tc := range cases {
		rule, err := reg.Get(tc.rule)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", tc.rule, err)
		}
		if got := rule.URL(d); got != tc.want {
			t.Errorf("%s.URL() = %q, want %q", tc.rule, got, tc.want)
		}
	}
}

func TestTermBoundaries(t *testing.T) {
	cases := []struct {
		date time.Time
		want string
	}{
		{date(1950, 8, 1), "0"},
		{date(1979, 7, 1), "0"},  // term start is exclusive
		{date(1979, 7, 2), "1"},
		{date(1984, 7, 15), "1"}, // overlap month resolves to the lower term
		{date(1984, 7, 31), "2"},
		{date(1994, 8, 1), "4"},
		{date(2019, 7, 15), "8"},
		{date(2019, 8, 1), "9"},
		{date(2024, 7, 30), "9"},
		{date(2024, 7, 31), "0"}, // term end is exclusive
		{date(2025, 8, 1), "0"},
	}
	for _, tc := range cases {
		if got := Term(tc.date); got != tc.want {
			t.Errorf("Term(%s) = %q, want %q", tc.date.Format(DateFormat), got, tc.want)
		}
	}
}

func TestRegistryCatalogue(t *testing.T) {
	reg := NewRegistry()

	// session_day plus six families in two languages and two formats.
	if reg.Len() != 25 {
		t.Errorf("Len() = %d, want 25", reg.Len())
	}

	names := reg.Names()
	if names[0] != ProbeRuleName {
		t.Errorf("Names()[0] = %q, want %q", names[0], ProbeRuleName)
	}
	seen := make(map[string]bool)
	for _, n := range names {
		if seen[n] {
			t.Errorf("duplicate rule name %q", n)
		}
		seen[n] = true
	}

	for _, want := range []string{
		"protocol_en_pdf", "protocol_de_html",
		"word_protocol_de_pdf", "agenda_en_html",
		"daily_agenda_de_html", "voting_overview_en_html",
		"named_voting_de_pdf",
	} {
		if _, err := reg.Get(want); err != nil {
			t.Errorf("Get(%s) failed: %v", want, err)
		}
	}

	probe := reg.Probe()
	if !probe.IsProbe() {
		t.Error("Probe() returned a rule with IsProbe() == false")
	}
	if probe.Language != "EN" || probe.Format != ".pdf" {
		t.Errorf("probe rule = %s %s, want EN .pdf", probe.Language, probe.Format)
	}
}

func TestRegistryConstructionIsRepeatable(t *testing.T) {
	a := NewRegistry().Names()
	b := NewRegistry().Names()
	if len(a) != len(b) {
		t.Fatalf("registries differ in size: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("name %d differs: %q vs %q", i, a[i], b[i])
		}
	}
}

func TestGetUnknownRule(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("minutes_fr_pdf")
	if !errors.Is(err, ErrUnknownRule) {
		t.Errorf("Get(minutes_fr_pdf) = %v, want ErrUnknownRule", err)
	}
}

func TestProbeDeclinesExtraction(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Probe().ExtractData("/nonexistent")
	if !errors.Is(err, ErrNotImplemented) {
		t.Errorf("probe ExtractData = %v, want ErrNotImplemented", err)
	}
}

func TestExtractDataHTML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.html")
	body := "<html><head><title>Agenda</title></head><body><p>Sitting of Thursday</p></body></html>"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	reg := NewRegistry()
	rule, err := reg.Get("agenda_en_html")
	if err != nil {
		t.Fatalf("Get(agenda_en_html) failed: %v", err)
	}

	data, err := rule.ExtractData(path)
	if err != nil {
		t.Fatalf("ExtractData failed: %v", err)
	}
	size, ok := data["filesize"].(int64)
	if !ok || size != int64(len(body)) {
		t.Errorf("filesize = %v, want %d", data["filesize"], len(body))
	}
	content, ok := data["content"].(string)
	if !ok || !strings.Contains(content, "Sitting of Thursday") {
		t.Errorf("content = %q, want it to contain the document text", content)
	}
}

func TestExtractDataMissingFile(t *testing.T) {
	reg := NewRegistry()
	rule, err := reg.Get("protocol_en_html")
	if err != nil {
		t.Fatalf("Get(protocol_en_html) failed: %v", err)
	}
	if _, err := rule.ExtractData(filepath.Join(t.TempDir(), "gone.html")); err == nil {
		t.Error("ExtractData on missing file succeeded, want error")
	}
}
