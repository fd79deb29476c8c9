// Command validate checks a loaded database against the CSV file it was
// ingested from: per-city row counts, per-city insert order and the
// processed flag. Run it after the storage consumer has drained the topic.
//
// Usage:
//
//	DATABASE_URL=postgres://... go run ./cmd/validate -csv tanzania_weather_data.csv
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/couchcryptid/weather-data-pipeline/internal/adapter/postgres"
	"github.com/couchcryptid/weather-data-pipeline/internal/config"
	"github.com/couchcryptid/weather-data-pipeline/internal/csvfile"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
	notes  []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) notef(format string, args ...any) {
	p.notes = append(p.notes, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// source is what the CSV file should have produced.
type source struct {
	rows    int64
	skipped int64
	cities  map[string]int64 // keyed by lower-cased city
}

// stored is what the database holds.
type stored struct {
	total       int64
	unprocessed int64
	outOfOrder  int64
	cities      map[string]int64
}

func main() {
	csvPath := flag.String("csv", "", "CSV file the database was loaded from")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall deadline")
	flag.Parse()

	if *csvPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*csvPath, *timeout); code != 0 {
		os.Exit(code)
	}
}

func run(csvPath string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		return 1
	}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	fmt.Println("=== Weather Data Integrity Validation ===")
	fmt.Println()

	src, err := loadSource(ctx, csvPath, quiet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read CSV: %v\n", err)
		return 1
	}

	db, err := postgres.Connect(ctx, cfg, quiet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: connect database: %v\n", err)
		return 1
	}
	defer db.Close()

	st, err := loadStored(ctx, db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: query database: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateCounts(src, st),
		validateOrdering(st),
		validateProcessedFlag(st),
	}
	return report(os.Stdout, phases, src, st)
}

func loadSource(ctx context.Context, path string, logger *slog.Logger) (source, error) {
	r, err := csvfile.Open(path, logger)
	if err != nil {
		return source{}, err
	}
	src := source{cities: map[string]int64{}}
	for rec := range r.Records(ctx) {
		src.rows++
		src.cities[strings.ToLower(rec.City)]++
	}
	if err := r.Err(); err != nil {
		return source{}, err
	}
	src.skipped = r.Skipped()
	return src, nil
}

func loadStored(ctx context.Context, db *postgres.DB) (stored, error) {
	var (
		st  = stored{cities: map[string]int64{}}
		err error
	)
	if st.total, err = db.CountRows(ctx); err != nil {
		return stored{}, err
	}
	if st.unprocessed, err = db.CountUnprocessed(ctx); err != nil {
		return stored{}, err
	}
	if st.outOfOrder, err = db.OutOfOrderRows(ctx); err != nil {
		return stored{}, err
	}
	cities, err := db.Cities(ctx)
	if err != nil {
		return stored{}, err
	}
	for _, c := range cities {
		st.cities[strings.ToLower(c.City)] = c.Rows
	}
	return st, nil
}

// validateCounts allows extra rows: redelivery after a crash between insert
// and offset commit legitimately duplicates content.
func validateCounts(src source, st stored) *phase {
	p := &phase{name: "Row counts (at-least-once)"}
	if st.total < src.rows {
		p.errorf("database holds %d rows, CSV has %d well-formed rows", st.total, src.rows)
	}
	for _, city := range sortedKeys(src.cities) {
		want, got := src.cities[city], st.cities[city]
		switch {
		case got < want:
			p.errorf("%s: %d rows stored, %d expected", city, got, want)
		case got > want:
			p.notef("%s: %d duplicate rows from redelivery", city, got-want)
		}
	}
	for _, city := range sortedKeys(st.cities) {
		if _, ok := src.cities[city]; !ok {
			p.notef("%s: %d rows not present in this CSV", city, st.cities[city])
		}
	}
	return p
}

func validateOrdering(st stored) *phase {
	p := &phase{name: "Per-city insert order"}
	if st.outOfOrder > 0 {
		p.errorf("%d rows were inserted before an earlier observation of the same city", st.outOfOrder)
	}
	return p
}

func validateProcessedFlag(st stored) *phase {
	p := &phase{name: "Processed flag untouched"}
	if st.unprocessed != st.total {
		p.errorf("%d of %d rows have processed = true", st.total-st.unprocessed, st.total)
	}
	return p
}

func report(w io.Writer, phases []*phase, src source, st stored) int {
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-42s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Records: %d CSV (%d skipped), %d stored, %d cities\n",
		src.rows, src.skipped, st.total, len(st.cities))

	for _, p := range phases {
		if p.passed() && len(p.notes) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			if i >= 20 {
				fmt.Fprintf(w, "  ... and %d more\n", len(p.errors)-20)
				break
			}
			fmt.Fprintf(w, "  ERROR %s\n", e)
		}
		for _, n := range p.notes {
			fmt.Fprintf(w, "  note  %s\n", n)
		}
	}

	if !allPassed {
		return 1
	}
	fmt.Fprintln(w, "\nAll checks passed.")
	return 0
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
