package extension

import (
	"context"
	"encoding/json"

	"github.com/veyra/stitchd/entity"
	"github.com/veyra/stitchd/errors"
	"github.com/veyra/stitchd/provider"
)

// runtimeCaller sends one JSON command into the foreign runtime and
// returns its JSON response. Implemented by wasmModule; tests substitute
// fakes to observe call ordering.
type runtimeCaller interface {
	Call(ctx context.Context, input string) (string, error)
}

// Adapter implements the provider capability on behalf of one module
// hosted in the foreign runtime. Every method funnels through the
// process-wide foreignMu critical section shared by all adapters.
type Adapter struct {
	caller     runtimeCaller
	name       string
	modulePath string
}

var _ provider.Provider = (*Adapter)(nil)
var _ provider.Stitcher = (*Adapter)(nil)
var _ provider.Kinded = (*Adapter)(nil)

// Name returns the registry alias (or self-reported module name).
func (a *Adapter) Name() string { return a.name }

// Kind reports extension hosting.
func (a *Adapter) Kind() provider.Kind { return provider.KindExtension }

// ModulePath returns the file the module was loaded from. Used by the
// reload watcher.
func (a *Adapter) ModulePath() string { return a.modulePath }

type command struct {
	Cmd   string          `json:"cmd"`
	Query *provider.Query `json:"query,omitempty"`
}

type moduleError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type moduleResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *moduleError    `json:"error,omitempty"`
}

// call serializes a command into the foreign runtime. The mutex is held
// for the full round trip: the hosted runtime does not support reentrant
// concurrent calls.
func (a *Adapter) call(ctx context.Context, cmd command) (json.RawMessage, error) {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, errors.Wrap(err, "encode module command")
	}

	foreignMu.Lock()
	raw, err := a.caller.Call(ctx, string(payload))
	foreignMu.Unlock()
	if err != nil {
		return nil, err
	}

	var resp moduleResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, errors.Wrapf(err, "decode module response for %q", cmd.Cmd)
	}
	if !resp.OK {
		if resp.Error != nil && resp.Error.Code == "not_supported" {
			return nil, errors.Wrapf(errors.ErrNotSupported, "%s: %s", cmd.Cmd, resp.Error.Message)
		}
		msg := "module reported failure"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return nil, errors.Newf("module %s: %s", cmd.Cmd, msg)
	}
	return resp.Result, nil
}

// selfReportedName asks the module for its provider name.
func (a *Adapter) selfReportedName(ctx context.Context) (string, error) {
	result, err := a.call(ctx, command{Cmd: "name"})
	if err != nil {
		return "", err
	}
	var name string
	if err := json.Unmarshal(result, &name); err != nil {
		return "", errors.Wrap(err, "decode module name")
	}
	if name == "" {
		return "", errors.New("module reported an empty name")
	}
	return name, nil
}

// FetchEntities resolves a query in the foreign runtime.
func (a *Adapter) FetchEntities(ctx context.Context, q provider.Query) ([]*entity.Entity, error) {
	result, err := a.call(ctx, command{Cmd: "fetch_entities", Query: &q})
	if err != nil {
		return nil, err
	}
	var entities []*entity.Entity
	if err := json.Unmarshal(result, &entities); err != nil {
		return nil, errors.Wrap(err, "decode fetched entities")
	}
	return entities, nil
}

// Stitch delegates the merge to the module. Modules without a stitch
// implementation answer not_supported, surfaced as ErrNotSupported.
func (a *Adapter) Stitch(ctx context.Context, q provider.Query) (*entity.Entity, error) {
	result, err := a.call(ctx, command{Cmd: "stitch", Query: &q})
	if err != nil {
		return nil, err
	}
	var ent entity.Entity
	if err := json.Unmarshal(result, &ent); err != nil {
		return nil, errors.Wrap(err, "decode stitched entity")
	}
	return &ent, nil
}
