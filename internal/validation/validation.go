package validation

import (
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/kjstillabower/water-data-explorer/internal/models"
)

// DateLayout is the date format accepted from the dashboard's date picker.
const DateLayout = "2006-01-02"

// MaxStationCodeLen bounds station codes; WMIP codes are short alphanumerics like 143001C.
const MaxStationCodeLen = 16

// MinDate is the earliest selectable lookback date.
var MinDate = time.Date(1970, 1, 1, 0, 0, 0, 0, models.LocalTime)

var (
	// ErrStationEmpty is returned when neither a station code nor name is given.
	ErrStationEmpty = errors.New("station is required")

	// ErrStationInvalid is returned when a code or name contains disallowed characters
	// or is too long.
	ErrStationInvalid = errors.New("station contains invalid characters")

	// ErrDateFormat is returned when a date is not YYYY-MM-DD.
	ErrDateFormat = errors.New("date must be YYYY-MM-DD")

	// ErrDateOutOfRange is returned for dates before MinDate or after today.
	ErrDateOutOfRange = errors.New("date out of range")

	// ErrDateOrder is returned when the end date precedes the start date.
	ErrDateOrder = errors.New("end date before start date")

	ErrThresholdInvalid = errors.New("threshold must be a finite number")
)

// ValidateStationCode trims and upper-cases a station code and restricts it to letters
// and digits.
func ValidateStationCode(input string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(input))
	if s == "" {
		return "", ErrStationEmpty
	}
	if len(s) > MaxStationCodeLen {
		return "", ErrStationInvalid
	}
	for _, c := range s {
		if !unicode.IsLetter(c) && !unicode.IsDigit(c) {
			return "", ErrStationInvalid
		}
	}
	return s, nil
}

// ValidateStationName trims a display name, enforces maxLen in runes and restricts it
// to letters, digits, spaces and the punctuation found in WMIP site names.
func ValidateStationName(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrStationEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrStationInvalid
	}
	for _, c := range r {
		if !isAllowedNameRune(c) {
			return "", ErrStationInvalid
		}
	}
	return s, nil
}

func isAllowedNameRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'', '(', ')', '&', '/', '@':
		return true
	}
	return false
}

// ParseDate parses a YYYY-MM-DD date as local midnight and checks it falls between
// MinDate and today inclusive.
func ParseDate(input string, today time.Time) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(input), models.LocalTime)
	if err != nil {
		return time.Time{}, ErrDateFormat
	}
	y, m, day := today.In(models.LocalTime).Date()
	last := time.Date(y, m, day, 0, 0, 0, 0, models.LocalTime)
	if d.Before(MinDate) || d.After(last) {
		return time.Time{}, ErrDateOutOfRange
	}
	return d, nil
}

// ParseDateRange parses start and optional end dates. An empty end yields the zero time.
func ParseDateRange(start, end string, today time.Time) (time.Time, time.Time, error) {
	s, err := ParseDate(start, today)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if strings.TrimSpace(end) == "" {
		return s, time.Time{}, nil
	}
	e, err := ParseDate(end, today)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, ErrDateOrder
	}
	return s, e, nil
}

// ParseThreshold parses the user threshold. An empty value means 0.
func ParseThreshold(input string) (float64, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrThresholdInvalid
	}
	return v, nil
}

// ParseParameter accepts a parameter from the closed table, ignoring case.
func ParseParameter(input string) (models.Parameter, error) {
	return models.ParseParameter(input)
}
