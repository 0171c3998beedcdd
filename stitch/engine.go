// Package stitch implements gap-aware range stitching: answer a range
// query from cache, fetch only the missing sub-ranges from the upstream
// provider, merge, persist.
package stitch

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/veyra/stitchd/entity"
	"github.com/veyra/stitchd/errors"
	"github.com/veyra/stitchd/provider"
)

// refreshHorizon is how long a stitched payload is considered fresh.
const refreshHorizon = 24 * time.Hour

// Engine resolves range queries against the entity store, fetching only
// uncovered gaps from the provider and persisting the merged result.
type Engine struct {
	store    *entity.Store
	registry *provider.Registry
	log      *zap.SugaredLogger
	now      func() time.Time
}

// NewEngine creates a stitch engine over a store and registry
func NewEngine(store *entity.Store, registry *provider.Registry, log *zap.SugaredLogger) *Engine {
	return &Engine{
		store:    store,
		registry: registry,
		log:      log,
		now:      time.Now,
	}
}

// Stitch answers q from cache plus per-gap upstream fetches.
//
// When the provider implements its own stitch, the merge is delegated and
// the provider's entity is persisted as canonical. Otherwise the engine
// performs the generic merge: dedup by natural key (latest fetch wins),
// sort by timestamp, trim to the requested range.
//
// A fetch failure on one gap aborts only that gap: progress from gaps
// already fetched in the same call is merged with the cache and persisted
// before the FetchError is returned, so a retry of the same query only
// re-attempts what is still missing.
func (e *Engine) Stitch(ctx context.Context, q provider.Query) (*entity.Entity, error) {
	p, err := e.registry.Lookup(q.Source)
	if err != nil {
		return nil, err
	}

	want, err := q.Range()
	if err != nil {
		return nil, err
	}
	keyTags := q.KeyTags()
	if len(keyTags) == 0 {
		return nil, errors.NewValidation("filters must identify a logical key (e.g. ticker)")
	}

	if stitcher, ok := p.(provider.Stitcher); ok {
		ent, err := stitcher.Stitch(ctx, q)
		switch {
		case err == nil:
			return e.store.Upsert(ctx, ent)
		case errors.Is(err, errors.ErrNotSupported):
			// Provider advertises the interface but this instance has no
			// stitch implementation (extension modules may omit it); fall
			// through to the generic merge.
		default:
			return nil, err
		}
	}

	return e.genericStitch(ctx, p, q, want, keyTags)
}

// ProviderStitch invokes the provider's own stitch directly, without the
// generic fallback. Fails with ErrNotSupported when unimplemented.
func (e *Engine) ProviderStitch(ctx context.Context, q provider.Query) (*entity.Entity, error) {
	p, err := e.registry.Lookup(q.Source)
	if err != nil {
		return nil, err
	}
	if _, err := q.Range(); err != nil {
		return nil, err
	}
	stitcher, ok := p.(provider.Stitcher)
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotSupported, "provider %s does not implement stitch", q.Source)
	}
	ent, err := stitcher.Stitch(ctx, q)
	if err != nil {
		return nil, err
	}
	return e.store.Upsert(ctx, ent)
}

func (e *Engine) genericStitch(ctx context.Context, p provider.Provider, q provider.Query, want entity.Range, keyTags map[string]string) (*entity.Entity, error) {
	cached, err := e.store.FindOverlapping(ctx, q.Source, keyTags, want)
	if err != nil {
		return nil, err
	}

	merger := newMerger(p)
	var coverage []entity.Range
	for _, c := range cached {
		covered, err := c.CoveredRange()
		if err != nil {
			continue
		}
		clamped, ok := covered.Clamp(want)
		if !ok {
			continue
		}
		coverage = append(coverage, clamped)
		records, err := entity.DecodeRecords(c.Data)
		if err != nil {
			return nil, errors.Wrapf(err, "cached entity %s", c.ID)
		}
		merger.add(records)
	}

	gaps := Gaps(want, coverage)
	e.log.Debugw("Computed stitch gaps",
		"source", q.Source,
		"key", entity.LogicalKey(keyTags),
		"range", want.String(),
		"cached_slices", len(cached),
		"gaps", len(gaps),
	)

	var fetchErr error
	for _, gap := range gaps {
		fetched, err := p.FetchEntities(ctx, q.WithRange(gap))
		if err != nil {
			// Abort this gap only; progress from earlier gaps still merges
			// and persists below so a retry re-attempts just the remainder.
			fetchErr = errors.NewFetchError(
				gap.From.Format(time.RFC3339), gap.To.Format(time.RFC3339), err)
			break
		}
		for _, fe := range fetched {
			// Trust the coverage the provider actually returned, not the
			// gap we asked for.
			if covered, err := fe.CoveredRange(); err == nil {
				if clamped, ok := covered.Clamp(want); ok {
					coverage = append(coverage, clamped)
				}
			} else {
				coverage = append(coverage, gap)
			}
			records, err := entity.DecodeRecords(fe.Data)
			if err != nil {
				return nil, errors.Wrapf(err, "fetched entity %s", fe.ID)
			}
			merger.add(records)

			// Persist the fetched slice under its own id so partial
			// progress survives a later failure in the same call.
			if _, err := e.store.Upsert(ctx, fe); err != nil {
				return nil, err
			}
		}
	}

	if fetchErr != nil {
		// The slices fetched before the failure are already persisted
		// under their own ids, so a retry only re-attempts the remainder.
		// The merged entity is not written: its tags would claim coverage
		// of the failed gap.
		return nil, fetchErr
	}

	return e.persistMerged(ctx, q, want, keyTags, merger)
}

func (e *Engine) persistMerged(ctx context.Context, q provider.Query, want entity.Range, keyTags map[string]string, m *merger) (*entity.Entity, error) {
	records := m.sorted(want)
	data, err := entity.EncodeRecords(records)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	ent := &entity.Entity{
		ID:           entity.NewID(q.Source, entity.LogicalKey(keyTags), want),
		Source:       q.Source,
		Tags:         entity.BuildTags(keyTags, want),
		Data:         data,
		ETag:         entity.MakeETag(data),
		FetchedAt:    now,
		RefreshAfter: now.Add(refreshHorizon),
		State:        entity.StateReady,
		LastError:    "",
		UpdatedAt:    now,
	}
	return e.store.Upsert(ctx, ent)
}

// merger deduplicates payload records by natural key. The default key is
// full-record equality; providers may narrow it via RecordKeyer. On a key
// collision the most recently added record wins, which with cache-first
// add ordering means the latest fetch wins.
type merger struct {
	keyFn func(entity.Record) string
	byKey map[string]entity.Record
}

func newMerger(p provider.Provider) *merger {
	keyFn := func(rec entity.Record) string { return rec.Canonical() }
	if keyer, ok := p.(provider.RecordKeyer); ok {
		keyFn = keyer.RecordKey
	}
	return &merger{
		keyFn: keyFn,
		byKey: make(map[string]entity.Record),
	}
}

func (m *merger) add(records []entity.Record) {
	for _, rec := range records {
		m.byKey[m.keyFn(rec)] = rec
	}
}

// sorted returns the deduplicated records ordered by timestamp and
// trimmed to the requested range. Records without a parsable timestamp
// are dropped; ties order deterministically by canonical form so repeated
// stitches of identical data produce byte-identical payloads.
func (m *merger) sorted(want entity.Range) []entity.Record {
	out := make([]entity.Record, 0, len(m.byKey))
	for _, rec := range m.byKey {
		ts, ok := rec.Timestamp()
		if !ok || !want.Contains(ts) {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, _ := out[i].Timestamp()
		tj, _ := out[j].Timestamp()
		if ti.Equal(tj) {
			return out[i].Canonical() < out[j].Canonical()
		}
		return ti.Before(tj)
	})
	return out
}
