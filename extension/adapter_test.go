package extension

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veyra/stitchd/errors"
	"github.com/veyra/stitchd/provider"
)

// fakeCaller scripts module responses and records the commands it saw.
type fakeCaller struct {
	mu       sync.Mutex
	commands []string
	respond  func(cmd string) (string, error)
}

func (f *fakeCaller) Call(ctx context.Context, input string) (string, error) {
	var cmd command
	if err := json.Unmarshal([]byte(input), &cmd); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.commands = append(f.commands, cmd.Cmd)
	f.mu.Unlock()
	return f.respond(cmd.Cmd)
}

func okResult(result interface{}) string {
	b, _ := json.Marshal(map[string]interface{}{"ok": true, "result": result})
	return string(b)
}

func failResult(code, message string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"ok":    false,
		"error": map[string]string{"code": code, "message": message},
	})
	return string(b)
}

func TestAdapterFetchEntities(t *testing.T) {
	caller := &fakeCaller{respond: func(cmd string) (string, error) {
		require.Equal(t, "fetch_entities", cmd)
		return okResult([]map[string]interface{}{{
			"id":     "ext:ticker=AAPL:a..b",
			"source": "ext",
			"tags":   []string{"ticker=AAPL"},
			"data":   "[]",
		}}), nil
	}}
	a := &Adapter{caller: caller, name: "ext", modulePath: "/tmp/ext.wasm"}

	ents, err := a.FetchEntities(context.Background(), provider.Query{Source: "ext"})
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, "ext:ticker=AAPL:a..b", ents[0].ID)
	assert.Equal(t, provider.KindExtension, a.Kind())
}

func TestAdapterStitchNotSupported(t *testing.T) {
	caller := &fakeCaller{respond: func(cmd string) (string, error) {
		return failResult("not_supported", "module has no stitch"), nil
	}}
	a := &Adapter{caller: caller, name: "ext"}

	_, err := a.Stitch(context.Background(), provider.Query{Source: "ext"})
	assert.True(t, errors.Is(err, errors.ErrNotSupported))
}

func TestAdapterModuleFailure(t *testing.T) {
	caller := &fakeCaller{respond: func(cmd string) (string, error) {
		return failResult("runtime_error", "division by zero"), nil
	}}
	a := &Adapter{caller: caller, name: "ext"}

	_, err := a.FetchEntities(context.Background(), provider.Query{Source: "ext"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "division by zero")
	assert.False(t, errors.Is(err, errors.ErrNotSupported))
}

func TestAdapterMalformedResponse(t *testing.T) {
	caller := &fakeCaller{respond: func(cmd string) (string, error) {
		return "not json", nil
	}}
	a := &Adapter{caller: caller, name: "ext"}

	_, err := a.FetchEntities(context.Background(), provider.Query{Source: "ext"})
	assert.Error(t, err)
}

func TestAdapterCallsAreSerialized(t *testing.T) {
	// All adapters share one foreign runtime that does not tolerate
	// reentrant calls. Overlap detection: a counter incremented on
	// entry and decremented on exit must never exceed one.
	var inFlight atomic.Int32
	var overlapped atomic.Bool

	slow := func(cmd string) (string, error) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return okResult([]map[string]interface{}{}), nil
	}

	a := &Adapter{caller: &fakeCaller{respond: slow}, name: "a"}
	b := &Adapter{caller: &fakeCaller{respond: slow}, name: "b"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := a.FetchEntities(context.Background(), provider.Query{Source: "a"})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := b.FetchEntities(context.Background(), provider.Query{Source: "b"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, overlapped.Load(), "calls into the foreign runtime overlapped")
}
