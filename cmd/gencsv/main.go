// Command gencsv writes a synthetic weather observation file for load and
// integration testing. Rows are hourly per city, in timestamp order.
//
// Usage:
//
//	go run ./cmd/gencsv -rows 100000 -cities Arusha,Dodoma,Mbeya \
//	  -european -malformed 10 -out data/weather.csv
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
)

const header = "timestamp,city,temperature,humidity,rainfall,windSpeed,pressure"

var (
	defaultCities = "Arusha,Dar es Salaam,Dodoma,Mbeya,Moshi,Mwanza,Tanga,Zanzibar"
	baseDate      = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
)

type options struct {
	rows      int
	cities    []string
	european  bool
	malformed int
	seed      uint64
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	rows := flag.Int("rows", 1000, "number of well-formed rows")
	cities := flag.String("cities", defaultCities, "comma-separated city names")
	european := flag.Bool("european", false, "write decimals with a comma separator")
	malformed := flag.Int("malformed", 0, "number of malformed rows to mix in")
	seed := flag.Uint64("seed", 1, "random seed")
	out := flag.String("out", "", "output path (stdout when empty)")
	flag.Parse()

	opts := options{
		rows:      *rows,
		cities:    splitCities(*cities),
		european:  *european,
		malformed: *malformed,
		seed:      *seed,
	}
	if opts.rows < 0 || opts.malformed < 0 {
		return fmt.Errorf("-rows and -malformed must not be negative")
	}
	if len(opts.cities) == 0 {
		return fmt.Errorf("-cities must name at least one city")
	}

	if *out == "" {
		return generate(os.Stdout, opts)
	}

	if err := os.MkdirAll(filepath.Dir(*out), 0o755); err != nil {
		return err
	}
	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	if err := generate(f, opts); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	log.Printf("wrote %d rows (%d malformed) to %s", opts.rows+opts.malformed, opts.malformed, *out)
	return nil
}

func splitCities(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// generate writes the header and rows to w. Malformed rows are spread evenly
// through the file and each one drops the pressure column.
func generate(w io.Writer, opts options) error {
	bw := bufio.NewWriter(w)
	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))

	if _, err := fmt.Fprintln(bw, header); err != nil {
		return err
	}

	total := opts.rows + opts.malformed
	every := 0
	if opts.malformed > 0 {
		every = total / opts.malformed
	}
	bad := 0
	for i := range total {
		city := opts.cities[i%len(opts.cities)]
		ts := baseDate.Add(time.Duration(i/len(opts.cities)) * time.Hour)
		rec := observation(rng, city, ts)

		line := formatRow(rec, opts.european)
		if every > 0 && bad < opts.malformed && (i+1)%every == 0 {
			line = line[:strings.LastIndexByte(line, ',')]
			if opts.european {
				// The pressure's decimal comma is the last separator; drop one more field.
				line = line[:strings.LastIndexByte(line, ',')]
			}
			bad++
		}
		if _, err := fmt.Fprintln(bw, line); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func observation(rng *rand.Rand, city string, ts time.Time) domain.Record {
	return domain.Record{
		Timestamp:   ts,
		City:        city,
		Temperature: round(15+rng.Float64()*20, 1),
		Humidity:    round(40+rng.Float64()*55, 1),
		Rainfall:    rainfall(rng),
		WindSpeed:   round(rng.Float64()*30, 1),
		Pressure:    round(1000+rng.Float64()*25, 1),
	}
}

// rainfall is zero most hours.
func rainfall(rng *rand.Rand) float64 {
	if rng.IntN(4) != 0 {
		return 0
	}
	return round(rng.Float64()*12, 2)
}

func round(v float64, prec int) float64 {
	f, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', prec, 64), 64)
	return f
}

func formatRow(r domain.Record, european bool) string {
	num := func(v float64, prec int) string {
		s := strconv.FormatFloat(v, 'f', prec, 64)
		if european {
			s = strings.Replace(s, ".", ",", 1)
		}
		return s
	}
	return strings.Join([]string{
		r.Timestamp.Format(domain.CSVTimeLayout),
		r.City,
		num(r.Temperature, 1),
		num(r.Humidity, 1),
		num(r.Rainfall, 2),
		num(r.WindSpeed, 1),
		num(r.Pressure, 1),
	}, ",")
}
