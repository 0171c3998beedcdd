// Package provider defines the provider capability consumed by the
// stitching engine and the registry that binds provider names to
// implementations.
//
// A provider is an opaque upstream data source. Native providers are
// compiled into the process; extension providers are hosted in a foreign
// runtime behind the extension adapter. Both are dispatched through the
// same interface, never via inheritance.
package provider

import (
	"context"
	"strings"

	"github.com/veyra/stitchd/entity"
	"github.com/veyra/stitchd/errors"
)

// Kind distinguishes in-process providers from foreign-runtime ones.
type Kind string

const (
	KindNative    Kind = "native"
	KindExtension Kind = "extension"
)

// Descriptor describes a registered provider.
type Descriptor struct {
	Name           string `json:"name"`
	Kind           Kind   `json:"kind"`
	SupportsStitch bool   `json:"supports_stitch"`
}

// Query is one data request routed to a provider. Filters carry the
// logical key fields (such as ticker) plus a from/to RFC3339 range.
type Query struct {
	Source  string            `json:"source"`
	Filters map[string]string `json:"filters"`
	Token   string            `json:"token,omitempty"`
}

// Range extracts and validates the half-open [from, to) range.
func (q Query) Range() (entity.Range, error) {
	from, okFrom := q.Filters["from"]
	to, okTo := q.Filters["to"]
	if !okFrom || !okTo {
		return entity.Range{}, errors.NewValidation("filters must include 'from' and 'to'")
	}
	return entity.ParseRange(from, to)
}

// KeyTags returns the filters identifying the logical cache key,
// excluding the range markers.
func (q Query) KeyTags() map[string]string {
	out := make(map[string]string)
	for k, v := range q.Filters {
		if k == "from" || k == "to" {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out
}

// WithRange returns a copy of the query scoped to r. Used by the engine
// to direct a provider at one gap.
func (q Query) WithRange(r entity.Range) Query {
	filters := make(map[string]string, len(q.Filters))
	for k, v := range q.Filters {
		filters[k] = v
	}
	filters["from"] = r.From.Format("2006-01-02T15:04:05Z07:00")
	filters["to"] = r.To.Format("2006-01-02T15:04:05Z07:00")
	return Query{Source: q.Source, Filters: filters, Token: q.Token}
}

// Provider is the capability boundary consumed by the core. A provider
// may return any coverage for a query, not necessarily exactly the range
// requested; the engine trusts the coverage actually returned.
type Provider interface {
	// Name is the provider's self-reported identifier
	Name() string

	// FetchEntities resolves a query against the upstream source
	FetchEntities(ctx context.Context, q Query) ([]*entity.Entity, error)
}

// Stitcher is an optional interface for providers that implement their
// own merge. When present, the engine delegates and uses the result as
// the canonical entity.
type Stitcher interface {
	Stitch(ctx context.Context, q Query) (*entity.Entity, error)
}

// RecordKeyer is an optional interface letting a provider define the
// natural key used to deduplicate payload records. Absent this, the
// engine falls back to full-record equality.
type RecordKeyer interface {
	RecordKey(rec entity.Record) string
}

// Kinded is an optional interface reporting a provider's hosting kind.
// Providers that do not implement it are treated as native.
type Kinded interface {
	Kind() Kind
}

// KindOf resolves a provider's kind.
func KindOf(p Provider) Kind {
	if k, ok := p.(Kinded); ok {
		return k.Kind()
	}
	return KindNative
}

// Describe builds the descriptor for a registered provider.
func Describe(p Provider) Descriptor {
	_, stitches := p.(Stitcher)
	return Descriptor{
		Name:           p.Name(),
		Kind:           KindOf(p),
		SupportsStitch: stitches,
	}
}
