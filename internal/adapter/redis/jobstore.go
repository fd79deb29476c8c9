// Package redis shares ingest job snapshots between ingestor replicas.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/couchcryptid/weather-data-pipeline/internal/config"
	"github.com/couchcryptid/weather-data-pipeline/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "weather:ingest:job:"

// JobStore keeps each job's latest status in a Redis hash that expires after
// a fixed TTL.
type JobStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewJobStore connects to cfg.RedisAddr and verifies the connection.
func NewJobStore(ctx context.Context, cfg *config.Config) (*JobStore, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &JobStore{client: client, ttl: cfg.JobStatusTTL}, nil
}

// Save overwrites the stored snapshot for status.ID and refreshes its TTL.
func (s *JobStore) Save(ctx context.Context, status domain.JobStatus) error {
	key := keyPrefix + status.ID
	_, err := s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, key, toFields(status))
		if status.FinishedAt == nil {
			p.HDel(ctx, key, "finished_at")
		}
		if status.Error == "" {
			p.HDel(ctx, key, "error")
		}
		p.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save job %s: %w", status.ID, err)
	}
	return nil
}

// Load returns the stored snapshot for id, or domain.ErrJobNotFound.
func (s *JobStore) Load(ctx context.Context, id string) (domain.JobStatus, error) {
	fields, err := s.client.HGetAll(ctx, keyPrefix+id).Result()
	if err != nil {
		return domain.JobStatus{}, fmt.Errorf("load job %s: %w", id, err)
	}
	if len(fields) == 0 {
		return domain.JobStatus{}, domain.ErrJobNotFound
	}
	return fromFields(fields)
}

// CheckReadiness pings Redis.
func (s *JobStore) CheckReadiness(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *JobStore) Close() error {
	return s.client.Close()
}

func toFields(st domain.JobStatus) map[string]any {
	fields := map[string]any{
		"id":         st.ID,
		"path":       st.Path,
		"state":      string(st.State),
		"read":       st.Read,
		"skipped":    st.Skipped,
		"published":  st.Published,
		"failed":     st.Failed,
		"started_at": st.StartedAt.UTC().Format(time.RFC3339Nano),
	}
	if st.FinishedAt != nil {
		fields["finished_at"] = st.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	if st.Error != "" {
		fields["error"] = st.Error
	}
	return fields
}

func fromFields(fields map[string]string) (domain.JobStatus, error) {
	st := domain.JobStatus{
		ID:    fields["id"],
		Path:  fields["path"],
		State: domain.JobState(fields["state"]),
		Error: fields["error"],
	}

	counters := []struct {
		name string
		dst  *int64
	}{
		{"read", &st.Read},
		{"skipped", &st.Skipped},
		{"published", &st.Published},
		{"failed", &st.Failed},
	}
	for _, c := range counters {
		v, err := strconv.ParseInt(fields[c.name], 10, 64)
		if err != nil {
			return domain.JobStatus{}, fmt.Errorf("job %s field %s: %w", st.ID, c.name, err)
		}
		*c.dst = v
	}

	started, err := time.Parse(time.RFC3339Nano, fields["started_at"])
	if err != nil {
		return domain.JobStatus{}, fmt.Errorf("job %s field started_at: %w", st.ID, err)
	}
	st.StartedAt = started

	if raw, ok := fields["finished_at"]; ok {
		finished, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return domain.JobStatus{}, fmt.Errorf("job %s field finished_at: %w", st.ID, err)
		}
		st.FinishedAt = &finished
	}

	if st.ID == "" {
		return domain.JobStatus{}, errors.New("stored job has no id")
	}
	return st, nil
}
