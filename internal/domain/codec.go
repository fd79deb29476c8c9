package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// wireTimeLayouts are the accepted timestamp surface forms, in priority order.
var wireTimeLayouts = []string{
	WireTimeLayout,
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05.000000",
	"2006-01-02T15:04:05.000000000",
}

// EncodeRecord serializes a record as a single-line JSON object. Numeric
// fields use period decimals: rainfall with two fractional digits, every
// other measurement with one.
func EncodeRecord(r Record) ([]byte, error) {
	city, err := json.Marshal(r.City)
	if err != nil {
		return nil, fmt.Errorf("encode city: %w", err)
	}

	buf := make([]byte, 0, 160)
	buf = append(buf, `{"timestamp":"`...)
	buf = r.Timestamp.AppendFormat(buf, WireTimeLayout)
	buf = append(buf, `","city":`...)
	buf = append(buf, city...)
	buf = appendField(buf, "temperature", r.Temperature, 1)
	buf = appendField(buf, "humidity", r.Humidity, 1)
	buf = appendField(buf, "rainfall", r.Rainfall, 2)
	buf = appendField(buf, "windSpeed", r.WindSpeed, 1)
	buf = appendField(buf, "pressure", r.Pressure, 1)
	buf = append(buf, '}')
	return buf, nil
}

func appendField(buf []byte, name string, v float64, prec int) []byte {
	buf = append(buf, ',', '"')
	buf = append(buf, name...)
	buf = append(buf, '"', ':')
	return strconv.AppendFloat(buf, v, 'f', prec, 64)
}

// wireRecord mirrors the JSON payload. Raw messages let the decoder tell an
// absent field from a zero value and accept numbers sent as strings.
type wireRecord struct {
	Timestamp   json.RawMessage `json:"timestamp"`
	City        json.RawMessage `json:"city"`
	Temperature json.RawMessage `json:"temperature"`
	Humidity    json.RawMessage `json:"humidity"`
	Rainfall    json.RawMessage `json:"rainfall"`
	WindSpeed   json.RawMessage `json:"windSpeed"`
	Pressure    json.RawMessage `json:"pressure"`
}

// Decoded is the outcome of decoding one payload: either a valid Record or
// the reason the payload must be dropped.
type Decoded struct {
	Record Record
	Err    error
}

// OK reports whether decoding produced a record.
func (d Decoded) OK() bool { return d.Err == nil }

// DecodeRecord parses a JSON payload back into a Record. Unknown fields are
// ignored. It never panics; every failure is reported through Decoded.Err.
func DecodeRecord(payload []byte) Decoded {
	var w wireRecord
	if err := json.Unmarshal(payload, &w); err != nil {
		return Decoded{Err: fmt.Errorf("decode payload: %w", err)}
	}

	tsRaw, err := stringField("timestamp", w.Timestamp)
	if err != nil {
		return Decoded{Err: err}
	}
	ts, err := parseWireTime(tsRaw)
	if err != nil {
		return Decoded{Err: err}
	}

	city, err := stringField("city", w.City)
	if err != nil {
		return Decoded{Err: err}
	}

	rec := Record{Timestamp: ts, City: city}
	numeric := []struct {
		name string
		raw  json.RawMessage
		dst  *float64
	}{
		{"temperature", w.Temperature, &rec.Temperature},
		{"humidity", w.Humidity, &rec.Humidity},
		{"rainfall", w.Rainfall, &rec.Rainfall},
		{"windSpeed", w.WindSpeed, &rec.WindSpeed},
		{"pressure", w.Pressure, &rec.Pressure},
	}
	for _, f := range numeric {
		v, err := numberField(f.name, f.raw)
		if err != nil {
			return Decoded{Err: err}
		}
		*f.dst = v
	}

	if err := rec.Validate(); err != nil {
		return Decoded{Err: err}
	}
	return Decoded{Record: rec}
}

// PeekCity extracts only the city from a payload, for observers that do not
// need a full decode.
func PeekCity(payload []byte) (string, error) {
	var w struct {
		City json.RawMessage `json:"city"`
	}
	if err := json.Unmarshal(payload, &w); err != nil {
		return "", fmt.Errorf("decode payload: %w", err)
	}
	return stringField("city", w.City)
}

func parseWireTime(s string) (time.Time, error) {
	// time.Parse accepts any fraction after the seconds, so the layout is
	// selected by length to admit only 0, 3, 6 or 9 fractional digits.
	for _, layout := range wireTimeLayouts {
		if len(s) != len(layout) {
			continue
		}
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrBadTimestamp, s)
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func stringField(name string, raw json.RawMessage) (string, error) {
	if isAbsent(raw) {
		return "", fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%s: expected string: %w", name, err)
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	return s, nil
}

func numberField(name string, raw json.RawMessage) (float64, error) {
	if isAbsent(raw) {
		return 0, fmt.Errorf("%w: %s", ErrMissingField, name)
	}
	text := string(bytes.TrimSpace(raw))
	if text[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%s: %w: %s", name, ErrBadNumber, text)
		}
		if s == "" {
			return 0, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
		text = s
	}
	v, err := parseDecimal(text)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}
