package cache

import (
	"context"
	"time"
)

// Cache defines a generic cache interface
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	// DeletePrefix drops every entry whose key starts with prefix.
	DeletePrefix(prefix string) int
	Size() int
}

// Cleaner is implemented by caches that can drop expired entries.
type Cleaner interface {
	CleanExpired() int
}

// Sweeper periodically cleans registered caches until its context ends.
type Sweeper struct {
	caches   []Cleaner
	interval time.Duration
	onSweep  func(removed int)
}

// NewSweeper returns a sweeper for the given caches. onSweep may be nil.
func NewSweeper(interval time.Duration, onSweep func(removed int), caches ...Cleaner) *Sweeper {
	return &Sweeper{caches: caches, interval: interval, onSweep: onSweep}
}

// Sweep cleans every cache once and returns the number of removed entries.
func (s *Sweeper) Sweep() int {
	removed := 0
	for _, c := range s.caches {
		removed += c.CleanExpired()
	}
	if s.onSweep != nil {
		s.onSweep(removed)
	}
	return removed
}

// Run blocks, sweeping on every tick, until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 || len(s.caches) == 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return
		}
	}
}
