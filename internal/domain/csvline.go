package domain

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// csvFieldCount is the number of columns in an observation row.
const csvFieldCount = 7

// decimalCommaRe matches a decimal comma: a digit, a comma, one or two digits,
// then a field separator or end of line. The trailing separator is captured
// and written back so field separators are never rewritten.
var decimalCommaRe = regexp.MustCompile(`(\d),(\d{1,2})(,|$)`)

// NormalizeDecimals rewrites European decimal commas in a raw CSV line to periods.
func NormalizeDecimals(line string) string {
	return decimalCommaRe.ReplaceAllString(line, "${1}.${2}${3}")
}

// ParseCSVLine parses one data line of the observation file into a Record.
func ParseCSVLine(line string) (Record, error) {
	fields := strings.Split(NormalizeDecimals(line), ",")
	if len(fields) != csvFieldCount {
		return Record{}, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedRow, csvFieldCount, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	ts, err := time.Parse(CSVTimeLayout, fields[0])
	if err != nil {
		return Record{}, fmt.Errorf("%w: %q", ErrBadTimestamp, fields[0])
	}

	var nums [5]float64
	names := [5]string{"temperature", "humidity", "rainfall", "windSpeed", "pressure"}
	for i := range nums {
		v, err := parseDecimal(fields[i+2])
		if err != nil {
			return Record{}, fmt.Errorf("%s: %w", names[i], err)
		}
		nums[i] = v
	}

	rec := Record{
		Timestamp:   ts,
		City:        fields[1],
		Temperature: nums[0],
		Humidity:    nums[1],
		Rainfall:    nums[2],
		WindSpeed:   nums[3],
		Pressure:    nums[4],
	}
	if err := rec.Validate(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// parseDecimal parses a finite decimal real.
func parseDecimal(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrBadNumber, s)
	}
	return v, nil
}
