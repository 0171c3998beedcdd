// Package extension hosts provider implementations compiled to
// WebAssembly and exposes them through the standard provider capability.
//
// The hosted runtime is not reentrant: at most one call into any loaded
// module executes at a time, process-wide, regardless of how many
// extension providers exist. Native providers and storage operations are
// unaffected and proceed fully in parallel. This single critical section
// is a deliberate design constraint, not an optimization target.
//
// Module protocol: a module exports `ext_alloc`, `ext_free`, and an entry
// point function (default "provider"). The entry point takes a UTF-8 JSON
// command in linear memory as (ptr, len) and returns a packed
// (ptr << 32) | len u64 pointing at a UTF-8 JSON response. Commands:
//
//	{"cmd":"name"}                        -> {"ok":true,"result":"<name>"}
//	{"cmd":"fetch_entities","query":{..}} -> {"ok":true,"result":[entities]}
//	{"cmd":"stitch","query":{..}}         -> {"ok":true,"result":{entity}}
//
// A module that does not implement stitch answers it with
// {"ok":false,"error":{"code":"not_supported",...}}.
package extension

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/tetratelabs/wazero"

	"github.com/veyra/stitchd/errors"
	"github.com/veyra/stitchd/logger"
)

// DefaultEntryPoint is the export invoked when a load spec names none.
const DefaultEntryPoint = "provider"

// foreignMu is the one process-wide critical section for foreign-runtime
// interaction. Every call into any loaded module takes it.
var foreignMu sync.Mutex

// Host owns the wazero runtime and the module search path.
type Host struct {
	mu          sync.Mutex // guards runtime init and search path mutation
	runtime     wazero.Runtime
	searchPaths []string
	searchSeen  map[string]bool
}

// NewHost creates an extension host with an empty search path.
func NewHost() *Host {
	return &Host{searchSeen: make(map[string]bool)}
}

// AddSearchPaths extends the module search path with dirs. Each directory
// is added at most once per process; re-adding is a no-op. Directories
// that do not exist are skipped.
func (h *Host) AddSearchPaths(dirs ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, dir := range dirs {
		abs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		if h.searchSeen[abs] {
			continue
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			continue
		}
		h.searchSeen[abs] = true
		h.searchPaths = append(h.searchPaths, abs)
		logger.Logger.Debugw("Extension search path added", "dir", abs)
	}
}

// SearchPaths returns a copy of the current module search path.
func (h *Host) SearchPaths() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.searchPaths))
	copy(out, h.searchPaths)
	return out
}

// Close releases the runtime and all instantiated modules.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runtime == nil {
		return nil
	}
	err := h.runtime.Close(ctx)
	h.runtime = nil
	return err
}

// ensureRuntime initializes the wazero runtime on first use.
func (h *Host) ensureRuntime(ctx context.Context) wazero.Runtime {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.runtime == nil {
		h.runtime = wazero.NewRuntime(ctx)
	}
	return h.runtime
}

// resolveModule maps a load spec to the wasm file to compile.
func (h *Host) resolveModule(spec Spec) (string, error) {
	if spec.FilePath != "" {
		abs, err := filepath.Abs(spec.FilePath)
		if err != nil {
			return "", errors.NewLoadError(errors.LoadNotFound, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return "", errors.NewLoadError(errors.LoadNotFound,
				errors.Newf("module file %s: %v", spec.FilePath, err))
		}
		return abs, nil
	}

	if spec.Module == "" {
		return "", errors.NewLoadError(errors.LoadNotFound,
			errors.New("load spec needs either file_path or module"))
	}

	// base_dir, when given, is consulted first and joins the search path
	dirs := h.SearchPaths()
	if spec.BaseDir != "" {
		h.AddSearchPaths(spec.BaseDir)
		if abs, err := filepath.Abs(spec.BaseDir); err == nil {
			dirs = append([]string{abs}, dirs...)
		}
	}

	filename := spec.Module + ".wasm"
	for _, dir := range dirs {
		candidate := filepath.Join(dir, filename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", errors.NewLoadError(errors.LoadNotFound,
		errors.Newf("module %q not found on search path %v", spec.Module, dirs))
}
