package domain

import "time"

// CityCount is a distinct city and the number of rows stored for it.
type CityCount struct {
	City string `json:"city"`
	Rows int64  `json:"rows"`
}

// Summary aggregates measurements over a set of rows. From and To are nil
// when the set is empty.
type Summary struct {
	City           string     `json:"city,omitempty"`
	Rows           int64      `json:"rows"`
	AvgTemperature float64    `json:"avgTemperature"`
	MinTemperature float64    `json:"minTemperature"`
	MaxTemperature float64    `json:"maxTemperature"`
	AvgHumidity    float64    `json:"avgHumidity"`
	TotalRainfall  float64    `json:"totalRainfall"`
	AvgWindSpeed   float64    `json:"avgWindSpeed"`
	AvgPressure    float64    `json:"avgPressure"`
	From           *time.Time `json:"from,omitempty"`
	To             *time.Time `json:"to,omitempty"`
}

// Page is one slice of an ordered row listing.
type Page struct {
	Rows  []Row `json:"rows"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
	Total int64 `json:"total"`
}
