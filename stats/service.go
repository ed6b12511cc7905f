package stats

import (
	"context"
	"fmt"
	"time"
)

// Reader abstracts the rollup repository for the service.
type Reader interface {
	Summarize(ctx context.Context, since time.Time) (Summary, error)
}

// Service exposes reporting rollups to the admin surface.
type Service struct {
	repo Reader
	now  func() time.Time
}

// NewService builds a Service using the provided reader.
func NewService(repo Reader) *Service {
	return &Service{repo: repo, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Overview summarizes ledger activity over the trailing period, e.g. the
// last 30 days.
func (s *Service) Overview(ctx context.Context, period time.Duration) (Summary, error) {
	if period <= 0 {
		return Summary{}, fmt.Errorf("stats: period must be positive, got %s", period)
	}
	return s.repo.Summarize(ctx, s.now().Add(-period))
}
