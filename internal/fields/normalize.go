package fields

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Payload limits for a single truck load, in tonnes.
const (
	MinWeight = 10.00
	MaxWeight = 40.00
)

// Commodities is the closed vocabulary for the commodity field.
var Commodities = []string{"Bauxite", "Alumina", "Coal", "Limestone"}

var (
	ticketRe     = regexp.MustCompile(`^[A-Z0-9-]{3,20}$`)
	truckRe      = regexp.MustCompile(`^[A-Z0-9]{3,10}$`)
	personRe     = regexp.MustCompile(`^[A-Za-z ]{2,50}$`)
	dispatcherRe = regexp.MustCompile(`^[A-Za-z .]{2,30}$`)
	placeRe      = regexp.MustCompile(`^[A-Za-z][A-Za-z. ]*$`)
	canonDateRe  = regexp.MustCompile(`^\d{2}/\d{2}/\d{2}$`)
	weightTextRe = regexp.MustCompile(`^\d+\.\d{2}$`)
	dayFirstRe   = regexp.MustCompile(`^(\d{1,2})[/.-](\d{1,2})[/.-](\d{2}|\d{4})$`)
	yearFirstRe  = regexp.MustCompile(`^(\d{4})[/.-](\d{1,2})[/.-](\d{1,2})$`)
	separatorRe  = regexp.MustCompile(`[-\s]+`)
)

// CollapseSpace trims v and folds internal whitespace runs to one space.
func CollapseSpace(v string) string {
	return strings.Join(strings.Fields(v), " ")
}

// NormalizeTicketNumber upper-cases and strips whitespace.
func NormalizeTicketNumber(v string) string {
	return strings.Join(strings.Fields(strings.ToUpper(v)), "")
}

// ValidTicketNumber accepts 3-20 upper-case alphanumerics or dashes holding at least one digit.
func ValidTicketNumber(v string) bool {
	return ticketRe.MatchString(v) && strings.ContainsAny(v, "0123456789")
}

// NormalizeTruckRegistration upper-cases and removes dashes and spaces.
func NormalizeTruckRegistration(v string) string {
	return separatorRe.ReplaceAllString(strings.ToUpper(strings.TrimSpace(v)), "")
}

// ValidTruckRegistration accepts 3-10 upper-case alphanumerics.
func ValidTruckRegistration(v string) bool {
	return truckRe.MatchString(v)
}

// ValidPersonName accepts 2-50 letters and spaces.
func ValidPersonName(v string) bool {
	return personRe.MatchString(v)
}

// ValidDispatcher accepts 2-30 letters, spaces, and dots.
func ValidDispatcher(v string) bool {
	return dispatcherRe.MatchString(v)
}

// NormalizeCommodity maps a commodity onto its vocabulary spelling.
func NormalizeCommodity(v string) string {
	return cases.Title(language.English).String(strings.ToLower(strings.TrimSpace(v)))
}

// ValidCommodity reports whether v is a vocabulary entry.
func ValidCommodity(v string) bool {
	for _, c := range Commodities {
		if v == c {
			return true
		}
	}
	return false
}

// NormalizeWeight renders a numeric weight with two decimals. The range is
// checked on the parsed value: values that do not parse or fall outside the
// payload range are returned trimmed and unrounded so validation rejects
// them, instead of rounding 40.001 down into range.
func NormalizeWeight(v string) string {
	v = strings.TrimSpace(v)
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < MinWeight || f > MaxWeight {
		return v
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// ValidWeight accepts canonical weights inside the payload range. Values
// outside the range are rejected, never clamped.
func ValidWeight(v string) bool {
	if !weightTextRe.MatchString(v) {
		return false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return false
	}
	return f >= MinWeight && f <= MaxWeight
}

// ValidPlace accepts 3-50 character place names.
func ValidPlace(v string) bool {
	return len(v) >= 3 && len(v) <= 50 && placeRe.MatchString(v)
}

// NormalizeDate reparses v and renders it as DD/MM/YY. Day-first is assumed
// for slash or dash dates; month-first is only used when day-first is not a
// real calendar date. Unparseable input is returned trimmed.
func NormalizeDate(v string) string {
	v = strings.TrimSpace(v)
	t, err := ParseDate(v)
	if err != nil {
		return v
	}
	return t.Format("02/01/06")
}

// ValidDate reports whether v is a canonical DD/MM/YY date.
func ValidDate(v string) bool {
	if !canonDateRe.MatchString(v) {
		return false
	}
	_, err := time.Parse("02/01/06", v)
	return err == nil
}

// ParseDate understands D/M/Y, D-M-Y, D.M.Y (two or four digit year) and Y-M-D.
func ParseDate(v string) (time.Time, error) {
	if m := yearFirstRe.FindStringSubmatch(v); m != nil {
		return calendarDate(m[1], m[2], m[3])
	}
	m := dayFirstRe.FindStringSubmatch(v)
	if m == nil {
		return time.Time{}, fmt.Errorf("unrecognized date %q", v)
	}
	year := m[3]
	if len(year) == 2 {
		year = "20" + year
	}
	t, err := calendarDate(year, m[2], m[1])
	if err == nil {
		return t, nil
	}
	if alt, altErr := calendarDate(year, m[1], m[2]); altErr == nil {
		return alt, nil
	}
	return time.Time{}, err
}

func calendarDate(y, m, d string) (time.Time, error) {
	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(m)
	day, _ := strconv.Atoi(d)
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("date out of range: %s-%s-%s", y, m, d)
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, fmt.Errorf("no such day: %s-%s-%s", y, m, d)
	}
	return t, nil
}
