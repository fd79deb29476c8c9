package domain_test

import (
	"strings"
	"testing"
	"time"

	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDecimals(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "european row",
			in:   "2024-03-15 08:00:00,Dodoma,22,5,60,0,1,50,8,2,1012,4",
			want: "2024-03-15 08:00:00,Dodoma,22.5,60.0,1.50,8.2,1012.4",
		},
		{
			name: "period row untouched",
			in:   "2024-03-15 08:00:00,Mbeya,18.5,75.0,0.20,12.5,1015.3",
			want: "2024-03-15 08:00:00,Mbeya,18.5,75.0,0.20,12.5,1015.3",
		},
		{
			name: "three fractional digits are not a decimal comma",
			in:   "1,234,x",
			want: "1,234,x",
		},
		{
			name: "end of line",
			in:   "a,10,5",
			want: "a,10.5",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, domain.NormalizeDecimals(tc.in))
		})
	}
}

func TestParseCSVLine_GoodRow(t *testing.T) {
	rec, err := domain.ParseCSVLine("2024-03-15 08:00:00,Mbeya,18.5,75.0,0.20,12.5,1015.3")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2024, time.March, 15, 8, 0, 0, 0, time.UTC), rec.Timestamp)
	assert.Equal(t, "Mbeya", rec.City)
	assert.InDelta(t, 18.5, rec.Temperature, 1e-9)
	assert.InDelta(t, 75.0, rec.Humidity, 1e-9)
	assert.InDelta(t, 0.20, rec.Rainfall, 1e-9)
	assert.InDelta(t, 12.5, rec.WindSpeed, 1e-9)
	assert.InDelta(t, 1015.3, rec.Pressure, 1e-9)
}

func TestParseCSVLine_EuropeanDecimals(t *testing.T) {
	rec, err := domain.ParseCSVLine("2024-03-15 08:00:00,Dodoma,22,5,60,0,1,50,8,2,1012,4")
	require.NoError(t, err)

	assert.Equal(t, "Dodoma", rec.City)
	assert.InDelta(t, 22.5, rec.Temperature, 1e-9)
	assert.InDelta(t, 60.0, rec.Humidity, 1e-9)
	assert.InDelta(t, 1.50, rec.Rainfall, 1e-9)
	assert.InDelta(t, 8.2, rec.WindSpeed, 1e-9)
	assert.InDelta(t, 1012.4, rec.Pressure, 1e-9)
}

func TestParseCSVLine_TrimsFields(t *testing.T) {
	rec, err := domain.ParseCSVLine(" 2024-03-15 08:00:00 , Arusha , 20.1 , 70 , 0 , 5.5 , 1010 ")
	require.NoError(t, err)
	assert.Equal(t, "Arusha", rec.City)
	assert.Zero(t, rec.Rainfall)
}

func TestParseCSVLine_Errors(t *testing.T) {
	cases := []struct {
		name string
		line string
		want error
	}{
		{"six fields", "2024-03-15 08:00:00,Mbeya,18.5,75.0,0.20,12.5", domain.ErrMalformedRow},
		{"eight fields", "2024-03-15 08:00:00,Mbeya,18.5,75.0,0.20,12.5,1015.3,x", domain.ErrMalformedRow},
		{"bad timestamp", "2024/03/15 08:00,Mbeya,18.5,75.0,0.20,12.5,1015.3", domain.ErrBadTimestamp},
		{"iso timestamp", "2024-03-15T08:00:00,Mbeya,18.5,75.0,0.20,12.5,1015.3", domain.ErrBadTimestamp},
		{"bad number", "2024-03-15 08:00:00,Mbeya,warm,75.0,0.20,12.5,1015.3", domain.ErrBadNumber},
		{"nan", "2024-03-15 08:00:00,Mbeya,NaN,75.0,0.20,12.5,1015.3", domain.ErrBadNumber},
		{"empty city", "2024-03-15 08:00:00,,18.5,75.0,0.20,12.5,1015.3", domain.ErrInvalidRecord},
		{"long city", "2024-03-15 08:00:00," + strings.Repeat("x", 51) + ",18.5,75.0,0.20,12.5,1015.3", domain.ErrInvalidRecord},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := domain.ParseCSVLine(tc.line)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}
