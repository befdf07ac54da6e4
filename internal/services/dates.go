package services

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// NormalizedDateLayout is the form dates are sent to the mapping service in.
const NormalizedDateLayout = "02/01/2006"

var dateLayouts = []string{
	"2/1/2006",
	"2-1-2006",
	"2006-1-2",
	"2 January 2006",
	"2 Jan 2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

var monthNames = map[string]int{
	"january": 1, "february": 2, "march": 3, "april": 4, "may": 5, "june": 6,
	"july": 7, "august": 8, "september": 9, "october": 10, "november": 11, "december": 12,
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "jun": 6, "jul": 7, "aug": 8, "sep": 9,
	"sept": 9, "oct": 10, "nov": 11, "dec": 12,
}

var ordinalDays = map[string]int{
	"first": 1, "second": 2, "third": 3, "fourth": 4, "fifth": 5, "sixth": 6,
	"seventh": 7, "eighth": 8, "ninth": 9, "tenth": 10, "eleventh": 11, "twelfth": 12,
	"thirteenth": 13, "fourteenth": 14, "fifteenth": 15, "sixteenth": 16, "seventeenth": 17,
	"eighteenth": 18, "nineteenth": 19, "twentieth": 20, "twenty-first": 21,
	"twenty-second": 22, "twenty-third": 23, "twenty-fourth": 24, "twenty-fifth": 25,
	"twenty-sixth": 26, "twenty-seventh": 27, "twenty-eighth": 28, "twenty-ninth": 29,
	"thirtieth": 30, "thirty-first": 31,
}

var (
	monthPattern   = alternation(monthNames)
	writtenDateRe  = regexp.MustCompile(`\b(` + alternation(ordinalDays) + `)\s+(` + monthPattern + `)\s+(\d{4})\b`)
	yearFirstRe    = regexp.MustCompile(`\b(\d{4})[/.-](\d{1,2})[/.-](\d{1,2})\b`)
	dayFirstRe     = regexp.MustCompile(`\b(\d{1,2})[/.-](\d{1,2})[/.-](\d{2,4})\b`)
	looseDayRe     = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\b`)
	looseMonthRe   = regexp.MustCompile(`\b(` + monthPattern + `)\b`)
	looseYearRe    = regexp.MustCompile(`\b((?:19|20)\d{2})\b`)
	dateFieldHints = []string{"date", "birth", "death", "issued"}
)

// alternation joins the keys of m longest first, so "june" wins over "jun".
func alternation(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, regexp.QuoteMeta(k))
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return strings.Join(keys, "|")
}

// IsDateField reports whether a field name looks like it holds a date.
func IsDateField(name string) bool {
	lower := strings.ToLower(name)
	for _, hint := range dateFieldHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// NormalizeDate rewrites a free-form date as DD/MM/YYYY. Day-first is assumed
// for ambiguous numeric dates. ok is false, and s is returned unchanged, when
// no date can be read.
func NormalizeDate(s string) (string, bool) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return s, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, in); err == nil {
			return t.Format(NormalizedDateLayout), true
		}
	}

	if m := writtenDateRe.FindStringSubmatch(in); m != nil {
		return formatDate(s, ordinalDays[m[1]], monthNames[m[2]], atoi(m[3]))
	}
	if m := yearFirstRe.FindStringSubmatch(in); m != nil {
		return formatDate(s, atoi(m[3]), atoi(m[2]), atoi(m[1]))
	}
	if m := dayFirstRe.FindStringSubmatch(in); m != nil {
		return formatDate(s, atoi(m[1]), atoi(m[2]), expandYear(atoi(m[3])))
	}

	month := looseMonthRe.FindStringSubmatch(in)
	year := looseYearRe.FindStringSubmatch(in)
	if month != nil && year != nil {
		for _, d := range looseDayRe.FindAllStringSubmatch(in, -1) {
			if day := atoi(d[1]); day >= 1 && day <= 31 {
				return formatDate(s, day, monthNames[month[1]], atoi(year[1]))
			}
		}
	}
	return s, false
}

// formatDate returns original unchanged when the parts are out of range.
func formatDate(original string, day, month, year int) (string, bool) {
	if day < 1 || day > 31 || month < 1 || month > 12 || year < 1 {
		return original, false
	}
	return fmt.Sprintf("%02d/%02d/%04d", day, month, year), true
}

// expandYear maps two-digit years to 1951..2050.
func expandYear(y int) int {
	switch {
	case y >= 100:
		return y
	case y > 50:
		return 1900 + y
	default:
		return 2000 + y
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
