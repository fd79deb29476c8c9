package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseAll(t *testing.T, out string) (good []domain.Record, bad int) {
	t.Helper()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Equal(t, header, lines[0])
	for _, line := range lines[1:] {
		rec, err := domain.ParseCSVLine(line)
		if err != nil {
			require.True(t, errors.Is(err, domain.ErrMalformedRow), "unexpected error %v for %q", err, line)
			bad++
			continue
		}
		good = append(good, rec)
	}
	return good, bad
}

func TestGenerate_ParsesBack(t *testing.T) {
	for _, european := range []bool{false, true} {
		var buf bytes.Buffer
		opts := options{rows: 200, cities: []string{"Arusha", "Mbeya"}, european: european, malformed: 7, seed: 42}
		require.NoError(t, generate(&buf, opts))

		good, bad := parseAll(t, buf.String())
		assert.Len(t, good, 200, "european=%v", european)
		assert.Equal(t, 7, bad, "european=%v", european)
	}
}

func TestGenerate_EuropeanMatchesPlain(t *testing.T) {
	opts := options{rows: 50, cities: []string{"Dodoma"}, seed: 7}
	var plain, euro bytes.Buffer
	require.NoError(t, generate(&plain, opts))
	opts.european = true
	require.NoError(t, generate(&euro, opts))

	a, _ := parseAll(t, plain.String())
	b, _ := parseAll(t, euro.String())
	assert.Equal(t, a, b)
}

func TestGenerate_PerCityOrder(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, generate(&buf, options{rows: 30, cities: []string{"Arusha", "Tanga", "Moshi"}, seed: 1}))

	good, _ := parseAll(t, buf.String())
	last := map[string]domain.Record{}
	for _, r := range good {
		if prev, ok := last[r.City]; ok {
			assert.True(t, r.Timestamp.After(prev.Timestamp), "%s out of order", r.City)
		}
		last[r.City] = r
	}
	assert.Len(t, last, 3)
}

func TestSplitCities(t *testing.T) {
	assert.Equal(t, []string{"Dar es Salaam", "Moshi"}, splitCities(" Dar es Salaam, ,Moshi,"))
	assert.Empty(t, splitCities(""))
}
