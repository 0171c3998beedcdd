// Package gateway exposes the stitch engine and provider registry over
// two client surfaces: a persistent line-oriented streaming transport
// (TCP, and the same envelope over WebSocket) and an HTTP administrative
// transport. Both authenticate through the same auth service and wrap
// every outcome in the uniform envelope, so a single bad request never
// terminates a listener.
package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/veyra/stitchd/auth"
	"github.com/veyra/stitchd/db"
	"github.com/veyra/stitchd/entity"
	"github.com/veyra/stitchd/errors"
	"github.com/veyra/stitchd/extension"
	"github.com/veyra/stitchd/provider"
	"github.com/veyra/stitchd/stitch"
)

// Request is one self-contained streaming request, one JSON object per
// inbound unit. Token may arrive as token or access_token.
type Request struct {
	RequestID   string            `json:"request_id,omitempty"`
	Source      string            `json:"source,omitempty"`
	Op          string            `json:"op"`
	Filters     map[string]string `json:"filters,omitempty"`
	Token       string            `json:"token,omitempty"`
	AccessToken string            `json:"access_token,omitempty"`
}

func (r Request) bearer() string {
	if r.Token != "" {
		return r.Token
	}
	return r.AccessToken
}

// Dispatcher routes authenticated requests into the engine and registry.
// It is shared by every transport.
type Dispatcher struct {
	engine   *stitch.Engine
	registry *provider.Registry
	host     *extension.Host
	authsvc  *auth.Service
	watcher  *extension.ReloadWatcher // nil when watching is disabled
	log      *zap.SugaredLogger
}

// NewDispatcher wires the shared gateway state.
func NewDispatcher(engine *stitch.Engine, registry *provider.Registry, host *extension.Host, authsvc *auth.Service, watcher *extension.ReloadWatcher, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		engine:   engine,
		registry: registry,
		host:     host,
		authsvc:  authsvc,
		watcher:  watcher,
		log:      log,
	}
}

// Authorize enforces the process-wide auth toggle for one token value.
// With auth disabled everything passes.
func (d *Dispatcher) Authorize(ctx context.Context, token string) error {
	if !d.authsvc.Enabled() {
		return nil
	}
	_, err := d.authsvc.Validate(ctx, token)
	return err
}

// Handle processes one streaming request into one envelope.
func (d *Dispatcher) Handle(ctx context.Context, req Request) Envelope {
	if err := d.Authorize(ctx, req.bearer()); err != nil {
		return Fail(req.RequestID, err)
	}

	switch req.Op {
	case "providers":
		return OK(req.RequestID, map[string]interface{}{
			"providers": d.registry.List(),
		})

	case "ping":
		if !d.registry.Has(req.Source) {
			return Fail(req.RequestID, errors.NewNotFound("unknown provider %q", req.Source))
		}
		return OK(req.RequestID, map[string]interface{}{"provider": req.Source})

	case "fetch":
		ents, err := d.fetch(ctx, req)
		if err != nil {
			d.logFailure(req.Op, err)
			return Fail(req.RequestID, err)
		}
		return OK(req.RequestID, map[string]interface{}{"entities": ents})

	case "stitch", "query", "":
		ent, err := d.engine.Stitch(ctx, provider.Query{
			Source:  req.Source,
			Filters: req.Filters,
			Token:   req.bearer(),
		})
		if err != nil {
			d.logFailure(req.Op, err)
			return Fail(req.RequestID, err)
		}
		return OK(req.RequestID, map[string]interface{}{"entity": ent})

	case "provider_stitch":
		ent, err := d.engine.ProviderStitch(ctx, provider.Query{
			Source:  req.Source,
			Filters: req.Filters,
			Token:   req.bearer(),
		})
		if err != nil {
			d.logFailure(req.Op, err)
			return Fail(req.RequestID, err)
		}
		return OK(req.RequestID, map[string]interface{}{"entity": ent})
	}

	return Fail(req.RequestID, errors.NewValidation("unknown op %q", req.Op))
}

// logFailure records server-side failures that the envelope alone would
// hide from operators. Requests still draining while the process shuts
// down hit the closed database; that is routine, not an incident.
func (d *Dispatcher) logFailure(op string, err error) {
	switch {
	case db.IsDatabaseClosed(err):
		d.log.Debugw("Request failed, database closed", "op", op)
	case errors.IsStorage(err):
		d.log.Errorw("Storage failure", "op", op, "error", err)
	}
}

// fetch bypasses stitching and asks the provider directly.
func (d *Dispatcher) fetch(ctx context.Context, req Request) ([]*entity.Entity, error) {
	p, err := d.registry.Lookup(req.Source)
	if err != nil {
		return nil, err
	}
	return p.FetchEntities(ctx, provider.Query{
		Source:  req.Source,
		Filters: req.Filters,
		Token:   req.bearer(),
	})
}

// LoadExtension loads a foreign-runtime provider and registers it under
// its alias. Registration happens only after the whole load succeeds.
func (d *Dispatcher) LoadExtension(ctx context.Context, spec extension.Spec) (string, error) {
	adapter, err := d.host.Load(ctx, spec)
	if err != nil {
		return "", err
	}
	d.registry.Register(adapter.Name(), adapter)
	if d.watcher != nil {
		if err := d.watcher.Track(adapter, spec); err != nil {
			d.log.Warnw("Could not watch extension module for reload",
				"module", adapter.ModulePath(),
				"error", err,
			)
		}
	}
	return adapter.Name(), nil
}
