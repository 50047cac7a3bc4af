package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lingua-coach/curriculum-engine/internal/domain/validation"
)

const (
	keyLatestReport = NamespaceSweep + "latest"
	keyReportLog    = NamespaceSweep + "history"

	// HistoryLength caps the number of sweep reports kept in the history list.
	HistoryLength = 20
)

// ReportStore keeps the latest integrity sweep report in Redis.
type ReportStore struct {
	cache *Cache
}

var _ validation.ReportStore = (*ReportStore)(nil)

// NewReportStore creates a ReportStore on top of cache.
func NewReportStore(cache *Cache) *ReportStore {
	return &ReportStore{cache: cache}
}

// SaveLatest replaces the latest report and prepends it to a capped history.
func (s *ReportStore) SaveLatest(ctx context.Context, rep *validation.SweepReport) error {
	if rep == nil {
		return ErrCacheNilValue
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheSerialization, err)
	}
	return s.cache.breaker.Execute(ctx, func(ctx context.Context) error {
		pipe := s.cache.client.TxPipeline()
		pipe.Set(ctx, s.cache.key(keyLatestReport), data, 0)
		pipe.LPush(ctx, s.cache.key(keyReportLog), data)
		pipe.LTrim(ctx, s.cache.key(keyReportLog), 0, HistoryLength-1)
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Latest returns the most recent report or validation.ErrNoReport.
func (s *ReportStore) Latest(ctx context.Context) (*validation.SweepReport, error) {
	var rep validation.SweepReport
	err := s.cache.Get(ctx, keyLatestReport, &rep)
	if errors.Is(err, ErrCacheMiss) {
		return nil, validation.ErrNoReport
	}
	if err != nil {
		return nil, fmt.Errorf("redis: latest report: %w", err)
	}
	return &rep, nil
}

// History returns up to n recent reports, newest first.
func (s *ReportStore) History(ctx context.Context, n int) ([]validation.SweepReport, error) {
	if n <= 0 || n > HistoryLength {
		n = HistoryLength
	}
	var raw []string
	err := s.cache.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		raw, err = s.cache.client.LRange(ctx, s.cache.key(keyReportLog), 0, int64(n-1)).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("redis: report history: %w", err)
	}
	out := make([]validation.SweepReport, 0, len(raw))
	for _, r := range raw {
		var rep validation.SweepReport
		if err := json.Unmarshal([]byte(r), &rep); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCacheSerialization, err)
		}
		out = append(out, rep)
	}
	return out, nil
}
