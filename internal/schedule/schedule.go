// Package schedule implements the annotation grammar that decides when a
// workload is scaled. A schedule is a semicolon-separated, case-insensitive
// string such as "2026;Dec;Fri;13;09:00". Tokens are classified by shape,
// not position, and omitted fields default to the wildcard "*". The time
// token is mandatory for a schedule to ever fire: a schedule without one
// never matches.
//
// The grammar is deliberately permissive. Unrecognized tokens are dropped
// and duplicate tokens of the same category overwrite each other, so a
// malformed schedule degrades to wildcards instead of raising an error.
package schedule

import (
	"strings"
	"time"
	"unicode"
)

// Wildcard marks a field with no constraint.
const Wildcard = "*"

var monthAbbrevs = []string{
	"jan", "feb", "mar", "apr", "may", "jun",
	"jul", "aug", "sep", "oct", "nov", "dec",
}

// Spec is a parsed schedule. Fields other than Time hold either Wildcard or
// a lowercased, possibly comma-separated list of alternatives. Time is
// "HH:MM" in 24h UTC, or empty when the schedule has no time token.
type Spec struct {
	Year       string
	Month      string
	DayOfWeek  string
	DayOfMonth string
	Time       string
}

// Parse turns a raw annotation value into a Spec. An empty input yields a
// Spec with all wildcards and no time, which can never be active.
func Parse(annotation string) Spec {
	spec := Spec{
		Year:       Wildcard,
		Month:      Wildcard,
		DayOfWeek:  Wildcard,
		DayOfMonth: Wildcard,
	}
	if annotation == "" {
		return spec
	}

	parts := strings.Split(annotation, ";")
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}

	// The time token, if present, is always last and is the only token
	// containing a colon.
	if last := parts[len(parts)-1]; strings.Contains(last, ":") {
		spec.Time = last
		parts = parts[:len(parts)-1]
	}

	for _, part := range parts {
		switch {
		case part == "":
		case len(part) == 4 && isDigits(part):
			spec.Year = part
		case containsLetter(part):
			if containsMonthAbbrev(part) {
				spec.Month = part
			} else {
				spec.DayOfWeek = part
			}
		case isDigitsAndCommas(part):
			spec.DayOfMonth = part
		}
	}

	return spec
}

// IsActive reports whether the schedule matches the given instant. All
// comparisons are against UTC at minute granularity; there is no tolerance
// window around the specified time.
func (s Spec) IsActive(now time.Time) bool {
	now = now.UTC()

	if s.Time == "" || now.Format("15:04") != s.Time {
		return false
	}

	if s.Year != Wildcard && now.Format("2006") != s.Year {
		return false
	}

	if s.Month != Wildcard {
		current := strings.ToLower(now.Format("Jan"))
		if !anyPrefixMatch(s.Month, current) {
			return false
		}
	}

	if s.DayOfWeek != Wildcard {
		current := strings.ToLower(now.Format("Mon"))
		if !anyPrefixMatch(s.DayOfWeek, current) {
			return false
		}
	}

	if s.DayOfMonth != Wildcard {
		current := now.Format("2")
		if !listContains(s.DayOfMonth, current) {
			return false
		}
	}

	return true
}

// anyPrefixMatch splits list on commas and reports whether current starts
// with the first three characters of at least one entry.
func anyPrefixMatch(list, current string) bool {
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if len(entry) > 3 {
			entry = entry[:3]
		}
		if strings.HasPrefix(current, entry) {
			return true
		}
	}
	return false
}

// listContains splits list on commas and reports exact membership.
func listContains(list, value string) bool {
	for _, entry := range strings.Split(list, ",") {
		if strings.TrimSpace(entry) == value {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

func isDigitsAndCommas(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) && r != ',' {
			return false
		}
	}
	return len(s) > 0
}

func containsLetter(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

func containsMonthAbbrev(s string) bool {
	for _, m := range monthAbbrevs {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
