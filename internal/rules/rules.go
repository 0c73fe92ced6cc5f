// Package rules defines the URL-pattern rules for the European Parliament
// document repository. A rule binds one document family to a language and a
// file format and knows how to mint the canonical URL for a sitting date and
// how to pull structured data out of a downloaded file.
package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// BaseURL is the common prefix of all plenary document URLs.
const BaseURL = "https://europarl.europa.eu/doceo/document/"

// ProbeRuleName names the rule used for session-day discovery. It shares
// the protocol URL pattern but never extracts data.
const ProbeRuleName = "session_day"

// DateFormat is the calendar-date layout embedded in document URLs.
const DateFormat = "2006-01-02"

var (
	// ErrUnknownRule is returned when a rule name is not registered.
	ErrUnknownRule = errors.New("unknown rule")

	// ErrNotImplemented is returned by rules that do not support data
	// extraction, such as the session-day probe rule.
	ErrNotImplemented = errors.New("extraction not implemented")
)

// Family identifies one of the document families published per sitting.
type Family int

const (
	Protocol Family = iota
	WordProtocol
	Agenda
	DailyAgenda
	VotingOverview
	NamedVoting
)

// String returns the family's snake_case name as used in rule names.
func (f Family) String() string {
	switch f {
	case Protocol:
		return "protocol"
	case WordProtocol:
		return "word_protocol"
	case Agenda:
		return "agenda"
	case DailyAgenda:
		return "daily_agenda"
	case VotingOverview:
		return "voting_overview"
	case NamedVoting:
		return "named_voting"
	default:
		return fmt.Sprintf("family(%d)", int(f))
	}
}

// prefix is the document-type token following the base URL.
func (f Family) prefix() string {
	switch f {
	case WordProtocol:
		return "CRE"
	case Agenda:
		return "OJ"
	case DailyAgenda:
		return "OJQ"
	default:
		// Protocol, VotingOverview and NamedVoting all live under PV.
		return "PV"
	}
}

// suffix is the qualifier inserted between date and language, if any.
func (f Family) suffix() string {
	switch f {
	case VotingOverview:
		return "-VOT"
	case NamedVoting:
		return "-RCV"
	default:
		return ""
	}
}

// Rule is one (family, language, format) combination.
type Rule struct {
	Name     string
	Family   Family
	Language string // "EN" or "DE"
	Format   string // ".pdf" or ".html"

	// probe marks the session-day discovery rule, which mints URLs but
	// declines extraction.
	probe bool
}

// URL mints the canonical document URL for the given sitting date.
func (r Rule) URL(date time.Time) string {
	var b strings.Builder
	b.WriteString(BaseURL)
	b.WriteString(r.Family.prefix())
	b.WriteString("-")
	b.WriteString(Term(date))
	b.WriteString("-")
	b.WriteString(date.Format(DateFormat))
	b.WriteString(r.Family.suffix())
	b.WriteString("_")
	b.WriteString(r.Language)
	b.WriteString(r.Format)
	return b.String()
}

// IsProbe reports whether this is the session-day discovery rule.
func (r Rule) IsProbe() bool {
	return r.probe
}

// Registry holds the known rules in registration order. Construct with
// NewRegistry; the zero value is empty.
type Registry struct {
	byName map[string]Rule
	names  []string
}

// NewRegistry builds the full rule catalogue: the session-day probe rule
// plus every document family in English and German, as PDF and HTML.
func NewRegistry() *Registry {
	r := &Registry{byName: make(map[string]Rule)}

	r.add(Rule{
		Name:     ProbeRuleName,
		Family:   Protocol,
		Language: "EN",
		Format:   ".pdf",
		probe:    true,
	})

	families := []Family{Protocol, WordProtocol, Agenda, DailyAgenda, VotingOverview, NamedVoting}
	for _, family := range families {
		for _, lang := range []string{"EN", "DE"} {
			for _, format := range []string{".pdf", ".html"} {
				r.add(Rule{
					Name:     ruleName(family, lang, format),
					Family:   family,
					Language: lang,
					Format:   format,
				})
			}
		}
	}
	return r
}

func ruleName(f Family, lang, format string) string {
	return f.String() + "_" + strings.ToLower(lang) + "_" + strings.TrimPrefix(format, ".")
}

func (r *Registry) add(rule Rule) {
	if _, dup := r.byName[rule.Name]; dup {
		panic("rules: duplicate rule " + rule.Name)
	}
	r.byName[rule.Name] = rule
	r.names = append(r.names, rule.Name)
}

// Get returns the rule registered under name.
func (r *Registry) Get(name string) (Rule, error) {
	rule, ok := r.byName[name]
	if !ok {
		return Rule{}, fmt.Errorf("%w: %q", ErrUnknownRule, name)
	}
	return rule, nil
}

// Probe returns the session-day discovery rule.
func (r *Registry) Probe() Rule {
	rule, err := r.Get(ProbeRuleName)
	if err != nil {
		panic("rules: registry built without probe rule")
	}
	return rule
}

// Names returns all rule names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// All returns all rules in registration order.
func (r *Registry) All() []Rule {
	out := make([]Rule, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.byName[name])
	}
	return out
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	return len(r.names)
}
