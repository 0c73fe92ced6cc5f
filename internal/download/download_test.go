package download

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSpacedOutDatesGrid(t *testing.T) {
	seed := day(2020, time.December, 31)
	dates := SpacedOutDates(seed)

	if got, want := len(dates), 63; got != want {
		t.Fatalf("len(dates) = %d, want %d", got, want)
	}
	if !dates[0].Equal(seed) {
		t.Errorf("dates[0] = %v, want the seed date", dates[0])
	}
	if want := seed.AddDate(0, 0, -13); !dates[13].Equal(want) {
		t.Errorf("dates[13] = %v, want %v", dates[13], want)
	}
	if want := seed.AddDate(0, 0, -14); !dates[14].Equal(want) {
		t.Errorf("dates[14] = %v, want %v", dates[14], want)
	}

	count := func(target time.Time) int {
		n := 0
		for _, d := range dates {
			if d.Equal(target) {
				n++
			}
		}
		return n
	}

	if got := count(seed.AddDate(0, 0, -29)); got != 0 {
		t.Errorf("29 days back appears %d times, want 0", got)
	}
	if got := count(seed.AddDate(0, 0, -30)); got != 1 {
		t.Errorf("30 days back appears %d times, want 1", got)
	}
	if got := count(seed.AddDate(0, 0, -90)); got != 1 {
		t.Errorf("90 days back appears %d times, want 1", got)
	}
	// 100, 200 and 300 days back sit in the every-tenth group and are
	// appended once more on top.
	for _, back := range []int{100, 200, 300} {
		if got := count(seed.AddDate(0, 0, -back)); got != 2 {
			t.Errorf("%d days back appears %d times, want 2", back, got)
		}
	}
	if want := seed.AddDate(0, 0, -300); !dates[62].Equal(want) {
		t.Errorf("dates[62] = %v, want %v", dates[62], want)
	}
}

func TestUnviewedDateStartsAtSeed(t *testing.T) {
	dir := t.TempDir()
	seed := day(2020, time.January, 13)

	got, ok, err := UnviewedDate(dir, seed)
	if err != nil {
		t.Fatalf("UnviewedDate: %v", err)
	}
	if !ok || !got.Equal(seed) {
		t.Errorf("UnviewedDate = %v, %v, want %v, true", got, ok, seed)
	}
	if _, err := os.Stat(filepath.Join(dir, LedgerName)); err != nil {
		t.Errorf("ledger was not created: %v", err)
	}
}

func TestUnviewedDateSkipsLedgeredDays(t *testing.T) {
	dir := t.TempDir()
	seed := day(2020, time.January, 13)

	ledger := "2020-01-13\n2020-01-12\n"
	if err := os.WriteFile(filepath.Join(dir, LedgerName), []byte(ledger), 0o644); err != nil {
		t.Fatal(err)
	}

	got, ok, err := UnviewedDate(dir, seed)
	if err != nil {
		t.Fatalf("UnviewedDate: %v", err)
	}
	if want := day(2020, time.January, 11); !ok || !got.Equal(want) {
		t.Errorf("UnviewedDate = %v, %v, want %v, true", got, ok, want)
	}
}

func TestUnviewedDateExhausted(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, LedgerName), []byte("1979-07-01\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, ok, err := UnviewedDate(dir, backfillFloor)
	if err != nil {
		t.Fatalf("UnviewedDate: %v", err)
	}
	if ok {
		t.Error("UnviewedDate found a date on a fully backfilled calendar")
	}
}

func TestRecordBackfilledAppendsOnce(t *testing.T) {
	dir := t.TempDir()
	seed := day(2020, time.January, 13)

	if err := RecordBackfilled(dir, seed); err != nil {
		t.Fatalf("RecordBackfilled: %v", err)
	}
	if err := RecordBackfilled(dir, seed); err != nil {
		t.Fatalf("RecordBackfilled: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, LedgerName))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(raw), "2020-01-13\n"; got != want {
		t.Errorf("ledger = %q, want %q", got, want)
	}
}

func TestRecordBackfilledKeepsExistingEntries(t *testing.T) {
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, LedgerName), []byte("2019-06-30\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := RecordBackfilled(dir, day(2020, time.January, 13)); err != nil {
		t.Fatalf("RecordBackfilled: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, LedgerName))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(raw), "2019-06-30\n2020-01-13\n"; got != want {
		t.Errorf("ledger = %q, want %q", got, want)
	}
}

func TestRewriteLinks(t *testing.T) {
	const base = "https://example.org/docs/"

	tests := []struct {
		name    string
		in      string
		want    string
		notWant string
	}{
		{
			name: "relative href",
			in:   `<a href="PV-9-2020-01-13_EN.html">protocol</a>`,
			want: `href="https://example.org/docs/PV-9-2020-01-13_EN.html"`,
		},
		{
			name: "root relative href",
			in:   `<link href="/style/main.css">`,
			want: `href="https://example.org/style/main.css"`,
		},
		{
			name:    "absolute href untouched",
			in:      `<a href="https://other.example/x">x</a>`,
			want:    `href="https://other.example/x"`,
			notWant: "example.org",
		},
		{
			name:    "protocol relative href untouched",
			in:      `<a href="//cdn.example/x.js">x</a>`,
			want:    `href="//cdn.example/x.js"`,
			notWant: "example.org",
		},
		{
			name:    "fragment untouched",
			in:      `<a href="#notes">notes</a>`,
			want:    `href="#notes"`,
			notWant: "example.org",
		},
		{
			name: "relative script src",
			in:   `<script src="js/app.js"></script>`,
			want: `src="https://example.org/docs/js/app.js"`,
		},
		{
			name:    "absolute script src untouched",
			in:      `<script src="https://other.example/app.js"></script>`,
			want:    `src="https://other.example/app.js"`,
			notWant: "example.org",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := RewriteLinks([]byte(tt.in), base)
			if err != nil {
				t.Fatalf("RewriteLinks: %v", err)
			}
			got := string(out)
			if !strings.Contains(got, tt.want) {
				t.Errorf("output %q does not contain %q", got, tt.want)
			}
			if tt.notWant != "" && strings.Contains(got, tt.notWant) {
				t.Errorf("output %q contains %q", got, tt.notWant)
			}
		})
	}
}
