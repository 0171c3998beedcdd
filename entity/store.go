package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/veyra/stitchd/errors"
)

// Store persists entities in SQLite. Every call acquires a pooled
// connection only for its own duration; a connection is never held across
// a provider invocation, so slow upstream fetches cannot starve the pool.
type Store struct {
	db *sql.DB
}

// NewStore creates an entity store over an open database
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindOverlapping returns all entities for (source, keyTags) whose covered
// range intersects r, sorted by range start. Rows whose key tags do not
// match keyTags exactly are excluded.
func (s *Store) FindOverlapping(ctx context.Context, source string, keyTags map[string]string, r Range) ([]*Entity, error) {
	// Coarse filter in SQL on source plus one key tag; exact key match and
	// range intersection are refined in Go after parsing tags.
	query := `SELECT id, source, tags, data, etag, fetched_at, refresh_after, state, last_error, updated_at
	          FROM entities WHERE source = ?`
	args := []interface{}{source}
	if tag := firstTag(keyTags); tag != "" {
		// The tags column holds the JSON encoding of the tag slice, so the
		// pattern must match the JSON-encoded element, escapes included.
		if enc, err := json.Marshal(tag); err == nil {
			query += ` AND tags LIKE ?`
			args = append(args, `%`+string(enc)+`%`)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.WrapStorage(err, "query overlapping entities")
	}
	defer rows.Close()

	wantKey := LogicalKey(keyTags)
	var out []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		if LogicalKey(e.KeyTags()) != wantKey {
			continue
		}
		covered, err := e.CoveredRange()
		if err != nil {
			// Rows with unparsable range tags cannot participate in
			// stitching; skip rather than fail the whole query.
			continue
		}
		if covered.Overlaps(r) {
			out = append(out, e)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.WrapStorage(err, "iterate overlapping entities")
	}

	sort.Slice(out, func(i, j int) bool {
		ri, erri := out[i].CoveredRange()
		rj, errj := out[j].CoveredRange()
		if erri != nil || errj != nil {
			return out[i].ID < out[j].ID
		}
		return ri.From.Before(rj.From)
	})
	return out, nil
}

// Get loads one entity by id, returning ErrNotFound when absent.
func (s *Store) Get(ctx context.Context, id string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source, tags, data, etag, fetched_at, refresh_after, state, last_error, updated_at
		 FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFound("entity %s", id)
		}
		return nil, err
	}
	return e, nil
}

// Upsert inserts the entity or updates it in place by id.
func (s *Store) Upsert(ctx context.Context, e *Entity) (*Entity, error) {
	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return nil, errors.Wrap(err, "encode entity tags")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (id, source, tags, data, etag, fetched_at, refresh_after, state, last_error, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   source = excluded.source,
		   tags = excluded.tags,
		   data = excluded.data,
		   etag = excluded.etag,
		   fetched_at = excluded.fetched_at,
		   refresh_after = excluded.refresh_after,
		   state = excluded.state,
		   last_error = excluded.last_error,
		   updated_at = excluded.updated_at`,
		e.ID, e.Source, string(tags), e.Data, e.ETag,
		e.FetchedAt.UTC().Format(time.RFC3339),
		e.RefreshAfter.UTC().Format(time.RFC3339),
		string(e.State), e.LastError,
		e.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, errors.WrapStorage(err, "upsert entity")
	}
	return e, nil
}

// scanner abstracts over *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(s scanner) (*Entity, error) {
	var (
		e                                 Entity
		tags, fetchedAt, refresh, updated string
		state                             string
	)
	err := s.Scan(&e.ID, &e.Source, &tags, &e.Data, &e.ETag,
		&fetchedAt, &refresh, &state, &e.LastError, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, errors.WrapStorage(err, "scan entity row")
	}

	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return nil, errors.Wrapf(err, "decode tags for entity %s", e.ID)
	}
	e.State = State(state)
	if e.FetchedAt, err = time.Parse(time.RFC3339, fetchedAt); err != nil {
		return nil, errors.Wrapf(err, "parse fetched_at for entity %s", e.ID)
	}
	if refresh != "" {
		if e.RefreshAfter, err = time.Parse(time.RFC3339, refresh); err != nil {
			return nil, errors.Wrapf(err, "parse refresh_after for entity %s", e.ID)
		}
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339, updated); err != nil {
		return nil, errors.Wrapf(err, "parse updated_at for entity %s", e.ID)
	}
	return &e, nil
}

func firstTag(keyTags map[string]string) string {
	keys := make([]string, 0, len(keyTags))
	for k := range keyTags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return ""
	}
	return keys[0] + "=" + keyTags[keys[0]]
}
