package gateway

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/veyra/stitchd/auth"
	"github.com/veyra/stitchd/db"
	"github.com/veyra/stitchd/entity"
	"github.com/veyra/stitchd/extension"
	"github.com/veyra/stitchd/provider"
	"github.com/veyra/stitchd/stitch"
)

// echoProvider returns one entity covering exactly the requested range
// with a single record per day.
type echoProvider struct{}

func (echoProvider) Name() string { return "echo" }

func (echoProvider) FetchEntities(ctx context.Context, q provider.Query) ([]*entity.Entity, error) {
	r, err := q.Range()
	if err != nil {
		return nil, err
	}
	var records []entity.Record
	for d := r.From; d.Before(r.To); d = d.Add(24 * time.Hour) {
		records = append(records, entity.Record{"timestamp": d.Format(time.RFC3339)})
	}
	data, err := entity.EncodeRecords(records)
	if err != nil {
		return nil, err
	}
	keyTags := q.KeyTags()
	now := time.Now().UTC()
	return []*entity.Entity{{
		ID:           entity.NewID("echo", entity.LogicalKey(keyTags), r),
		Source:       "echo",
		Tags:         entity.BuildTags(keyTags, r),
		Data:         data,
		ETag:         entity.MakeETag(data),
		FetchedAt:    now,
		RefreshAfter: now.Add(24 * time.Hour),
		State:        entity.StateReady,
		UpdatedAt:    now,
	}}, nil
}

func newTestDispatcher(t *testing.T, authEnabled bool) (*Dispatcher, *auth.Service) {
	t.Helper()
	database, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "gateway-test.db"), 2, zap.NewNop().Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	registry := provider.NewRegistry()
	registry.Register("echo", echoProvider{})

	engine := stitch.NewEngine(entity.NewStore(database), registry, zap.NewNop().Sugar())
	authsvc := auth.NewService(auth.NewStore(database), authEnabled)
	host := extension.NewHost()
	t.Cleanup(func() { host.Close(context.Background()) })

	return NewDispatcher(engine, registry, host, authsvc, nil, zap.NewNop().Sugar()), authsvc
}

func stitchRequest() Request {
	return Request{
		RequestID: "r1",
		Source:    "echo",
		Op:        "stitch",
		Filters: map[string]string{
			"ticker": "AAPL",
			"from":   "2025-09-05T00:00:00Z",
			"to":     "2025-09-08T00:00:00Z",
		},
	}
}

func TestDispatcherOps(t *testing.T) {
	d, _ := newTestDispatcher(t, false)
	ctx := context.Background()

	t.Run("providers", func(t *testing.T) {
		env := d.Handle(ctx, Request{RequestID: "r1", Op: "providers"})
		assert.Equal(t, true, env["ok"])
		assert.Equal(t, "r1", env["request_id"])
		assert.Equal(t, []string{"echo"}, env["providers"])
	})

	t.Run("ping known", func(t *testing.T) {
		env := d.Handle(ctx, Request{Op: "ping", Source: "echo"})
		assert.Equal(t, true, env["ok"])
		assert.Equal(t, "echo", env["provider"])
	})

	t.Run("ping unknown", func(t *testing.T) {
		env := d.Handle(ctx, Request{Op: "ping", Source: "ghost"})
		assert.Equal(t, false, env["ok"])
		assert.Equal(t, "NotFound", env["kind"])
	})

	t.Run("stitch", func(t *testing.T) {
		env := d.Handle(ctx, stitchRequest())
		require.Equal(t, true, env["ok"], "envelope: %v", env)
		ent, ok := env["entity"].(*entity.Entity)
		require.True(t, ok)
		records, err := entity.DecodeRecords(ent.Data)
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})

	t.Run("empty op defaults to stitch", func(t *testing.T) {
		req := stitchRequest()
		req.Op = ""
		env := d.Handle(ctx, req)
		assert.Equal(t, true, env["ok"])
	})

	t.Run("fetch bypasses the cache", func(t *testing.T) {
		req := stitchRequest()
		req.Op = "fetch"
		env := d.Handle(ctx, req)
		require.Equal(t, true, env["ok"])
		ents, ok := env["entities"].([]*entity.Entity)
		require.True(t, ok)
		assert.Len(t, ents, 1)
	})

	t.Run("provider_stitch without the capability", func(t *testing.T) {
		req := stitchRequest()
		req.Op = "provider_stitch"
		env := d.Handle(ctx, req)
		assert.Equal(t, false, env["ok"])
		assert.Equal(t, "NotSupported", env["kind"])
	})

	t.Run("missing range filters", func(t *testing.T) {
		env := d.Handle(ctx, Request{Op: "stitch", Source: "echo", Filters: map[string]string{"ticker": "AAPL"}})
		assert.Equal(t, false, env["ok"])
		assert.Equal(t, "ValidationError", env["kind"])
		body, ok := env["error"].(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, "validation_error", body["code"])
	})

	t.Run("unknown op", func(t *testing.T) {
		env := d.Handle(ctx, Request{Op: "frobnicate"})
		assert.Equal(t, false, env["ok"])
		assert.Equal(t, "ValidationError", env["kind"])
	})
}

func TestDispatcherAuth(t *testing.T) {
	ctx := context.Background()

	t.Run("disabled auth admits everyone", func(t *testing.T) {
		d, _ := newTestDispatcher(t, false)
		env := d.Handle(ctx, stitchRequest())
		assert.Equal(t, true, env["ok"])
	})

	t.Run("enabled auth rejects missing and bad tokens", func(t *testing.T) {
		d, authsvc := newTestDispatcher(t, true)

		env := d.Handle(ctx, stitchRequest())
		assert.Equal(t, false, env["ok"])
		assert.Equal(t, "Unauthorized", env["kind"])

		req := stitchRequest()
		req.Token = "bogus"
		env = d.Handle(ctx, req)
		assert.Equal(t, "Unauthorized", env["kind"])

		// A real token passes, via either field
		_, pair, err := authsvc.Bootstrap(ctx, "ops@example.com", "secret")
		require.NoError(t, err)

		req = stitchRequest()
		req.Token = pair.Access.Value
		assert.Equal(t, true, d.Handle(ctx, req)["ok"])

		req = stitchRequest()
		req.Token = ""
		req.AccessToken = pair.Access.Value
		assert.Equal(t, true, d.Handle(ctx, req)["ok"])
	})
}

func TestDispatcherLogsClosedDatabaseQuietly(t *testing.T) {
	database, err := db.OpenWithMigrations(filepath.Join(t.TempDir(), "gateway-test.db"), 2, zap.NewNop().Sugar())
	require.NoError(t, err)

	registry := provider.NewRegistry()
	registry.Register("echo", echoProvider{})
	engine := stitch.NewEngine(entity.NewStore(database), registry, zap.NewNop().Sugar())
	authsvc := auth.NewService(auth.NewStore(database), false)
	host := extension.NewHost()
	t.Cleanup(func() { host.Close(context.Background()) })

	core, logs := observer.New(zapcore.DebugLevel)
	d := NewDispatcher(engine, registry, host, authsvc, nil, zap.New(core).Sugar())

	// Requests still draining after shutdown has closed the database get
	// their error envelope, but the operator log stays at debug.
	require.NoError(t, database.Close())
	env := d.Handle(context.Background(), stitchRequest())
	assert.Equal(t, false, env["ok"])
	assert.Equal(t, "StorageError", env["kind"])

	quiet := logs.FilterMessage("Request failed, database closed").All()
	require.Len(t, quiet, 1)
	assert.Equal(t, zapcore.DebugLevel, quiet[0].Level)
	assert.Empty(t, logs.FilterLevelExact(zapcore.ErrorLevel).All())
}
