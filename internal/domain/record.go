package domain

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MaxCityLength is the widest city identifier the store accepts.
const MaxCityLength = 50

// Layouts for the CSV input and the wire timestamp.
const (
	CSVTimeLayout  = "2006-01-02 15:04:05"
	WireTimeLayout = "2006-01-02T15:04:05"
)

// Record is one weather observation before it acquires an identity.
type Record struct {
	Timestamp   time.Time `json:"timestamp"`
	City        string    `json:"city" validate:"required,max=50"`
	Temperature float64   `json:"temperature" validate:"finite"` // °C
	Humidity    float64   `json:"humidity" validate:"finite"`    // %
	Rainfall    float64   `json:"rainfall" validate:"finite"`    // mm
	WindSpeed   float64   `json:"windSpeed" validate:"finite"`   // km/h
	Pressure    float64   `json:"pressure" validate:"finite"`    // hPa
}

// Row is a persisted Record.
type Row struct {
	ID int64 `json:"id"`
	Record
	CreatedAt time.Time `json:"createdAt"`
	Processed bool      `json:"processed"`
}

// SameCity reports whether two city identifiers are equal ignoring case.
func SameCity(a, b string) bool {
	return strings.EqualFold(a, b)
}

// ConsumerStats is the status snapshot exposed by the storage consumer.
type ConsumerStats struct {
	Processed       int64 `json:"messagesProcessed"`
	Errors          int64 `json:"errors"`
	TotalRows       int64 `json:"totalDatabaseRecords"`
	UnprocessedRows int64 `json:"unprocessedRecords"`
}

// Message is a fetched bus message. Commit, when set, acknowledges the
// message's offset for the consumer group it was read by.
type Message struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails on an empty tag or nil func.
	_ = v.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() != reflect.Float64 {
			return false
		}
		f := fl.Field().Float()
		return !math.IsNaN(f) && !math.IsInf(f, 0)
	})
	return v
}

// Validate checks the field constraints of a record.
func (r Record) Validate() error {
	if r.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidRecord)
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}

// NewTestRecord returns the fixed sample observation used for smoke-testing a
// deployment, stamped with the current time.
func NewTestRecord() Record {
	return Record{
		Timestamp:   Now(),
		City:        "Mbeya",
		Temperature: 18.5,
		Humidity:    75.0,
		Rainfall:    0.2,
		WindSpeed:   12.5,
		Pressure:    1015.3,
	}
}
