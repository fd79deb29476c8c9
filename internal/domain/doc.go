// Package domain models historical weather observations as they move through
// the ingestion pipeline.
//
// # Data Source
//
// Observations arrive as a delimited text file (the Tanzania historical
// dataset is ~2.3M rows). The first line is a header; every other line carries
// seven fields:
//
//	timestamp,city,temperature,humidity,rainfall,windSpeed,pressure
//	2024-03-15 08:00:00,Mbeya,18.5,75.0,0.20,12.5,1015.3
//
// Timestamps are local wall-clock times with second resolution and no zone.
// They are held as [time.Time] values in UTC purely as a carrier; no zone
// conversion is ever applied.
//
// # European Decimals
//
// Some exports use a decimal comma. Before splitting, every "digit, comma, one
// or two digits" that is followed by a field separator or end of line has its
// comma rewritten to a period:
//
//	2024-03-15 08:00:00,Dodoma,22,5,60,0,1,50,8,2,1012,4
//	2024-03-15 08:00:00,Dodoma,22.5,60.0,1.50,8.2,1012.4
//
// The rewrite is a heuristic. A file that mixes period decimals with one- or
// two-digit integer fields will be misread; such rows usually fail the
// seven-field check and are skipped.
//
// # Wire Format
//
// A [Record] travels over the bus as one line of JSON keyed by city:
//
//	{"timestamp":"2024-03-15T08:00:00","city":"Mbeya","temperature":18.5,
//	 "humidity":75.0,"rainfall":0.20,"windSpeed":12.5,"pressure":1015.3}
//
// Temperature, humidity, wind speed and pressure carry one fractional digit,
// rainfall two. See [EncodeRecord] and [DecodeRecord].
//
// # Persistence
//
// A persisted record is a [Row]: the record plus an identity, the insertion
// instant and a processed flag. The flag defaults to false and nothing in this
// module ever sets it.
package domain
