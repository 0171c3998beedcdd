// Package randomwalk is a native provider producing synthetic daily
// OHLCV bars from a deterministic per-ticker walk. The same ticker and
// day always produce the same bar, so overlapping fetches deduplicate
// cleanly and tests get reproducible payloads.
package randomwalk

import (
	"context"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/veyra/stitchd/entity"
	"github.com/veyra/stitchd/errors"
	"github.com/veyra/stitchd/provider"
)

const providerName = "randomwalk"

// Provider generates synthetic market bars in-process.
type Provider struct {
	now func() time.Time
}

// New creates the synthetic bar provider.
func New() *Provider {
	return &Provider{now: time.Now}
}

// NewWithClock creates the provider with an injected clock.
func NewWithClock(now func() time.Time) *Provider {
	return &Provider{now: now}
}

func (p *Provider) Name() string { return providerName }

// Kind reports the hosting kind.
func (p *Provider) Kind() provider.Kind { return provider.KindNative }

// RecordKey deduplicates bars by day: one bar per timestamp.
func (p *Provider) RecordKey(rec entity.Record) string {
	ts, _ := rec["timestamp"].(string)
	return ts
}

// FetchEntities produces one entity covering the requested range with
// one bar per UTC day in [from, to).
func (p *Provider) FetchEntities(ctx context.Context, q provider.Query) ([]*entity.Entity, error) {
	r, err := q.Range()
	if err != nil {
		return nil, err
	}
	keyTags := q.KeyTags()
	ticker, ok := keyTags["ticker"]
	if !ok || ticker == "" {
		return nil, errors.NewValidation("randomwalk requires a 'ticker' filter")
	}

	records := make([]entity.Record, 0)
	for day := r.From.UTC().Truncate(24 * time.Hour); day.Before(r.To); day = day.Add(24 * time.Hour) {
		if day.Before(r.From) {
			continue
		}
		records = append(records, barFor(ticker, day))
	}

	data, err := entity.EncodeRecords(records)
	if err != nil {
		return nil, err
	}

	now := p.now().UTC()
	ent := &entity.Entity{
		ID:           entity.NewID(providerName, entity.LogicalKey(keyTags), r),
		Source:       providerName,
		Tags:         entity.BuildTags(keyTags, r),
		Data:         data,
		ETag:         entity.MakeETag(data),
		FetchedAt:    now,
		RefreshAfter: now.Add(24 * time.Hour),
		State:        entity.StateReady,
		UpdatedAt:    now,
	}
	return []*entity.Entity{ent}, nil
}

// barFor derives the bar for one ticker-day. The walk is anchored per
// day, not per fetch, so re-fetching a day reproduces the identical bar.
func barFor(ticker string, day time.Time) entity.Record {
	rng := rand.New(rand.NewSource(int64(seed(ticker, day))))

	base := 20.0 + float64(seed(ticker, time.Time{})%4000)/10.0
	drift := float64(day.Unix()/86400%251) * 0.13
	open := round2(base + drift + rng.Float64()*2.0)
	spread := 0.5 + rng.Float64()*3.0
	high := round2(open + spread)
	low := round2(open - (0.5 + rng.Float64()*2.0))
	closing := round2(low + rng.Float64()*(high-low))
	volume := 100_000 + rng.Int63n(9_900_000)

	return entity.Record{
		"timestamp": day.Format(time.RFC3339),
		"ticker":    ticker,
		"open":      open,
		"high":      high,
		"low":       low,
		"close":     closing,
		"volume":    volume,
	}
}

func seed(ticker string, day time.Time) uint64 {
	h := fnv.New64a()
	h.Write([]byte(ticker))
	if !day.IsZero() {
		h.Write([]byte(day.Format("2006-01-02")))
	}
	return h.Sum64()
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
