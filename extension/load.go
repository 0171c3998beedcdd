package extension

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/veyra/stitchd/errors"
	"github.com/veyra/stitchd/logger"
)

// Spec describes one extension provider to load: either a module name
// resolved against the search path (optionally extended by base_dir), or
// an explicit file path. The entry point is the exported function to
// drive; alias overrides the module's self-reported name in the registry.
type Spec struct {
	Module     string `json:"module,omitempty"`
	BaseDir    string `json:"base_dir,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	EntryPoint string `json:"entry_point,omitempty"`
	Alias      string `json:"alias,omitempty"`
}

// instance names must be unique within one wazero runtime
var instanceSeq atomic.Uint64

// Load resolves, compiles and instantiates an extension module, then asks
// it for its name. It returns an Adapter ready for registration; on any
// failure nothing remains instantiated, so a failed load never leaves a
// partially registered provider.
//
// Failure classification:
//   - NotFound: the module or file could not be resolved
//   - AttributeError: the entry point (or alloc/free) export is missing
//   - InstantiationError: compile, instantiate, or the name call failed
func (h *Host) Load(ctx context.Context, spec Spec) (*Adapter, error) {
	path, err := h.resolveModule(spec)
	if err != nil {
		return nil, err
	}

	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewLoadError(errors.LoadNotFound,
			errors.Wrapf(err, "read module %s", path))
	}

	entry := spec.EntryPoint
	if entry == "" {
		entry = DefaultEntryPoint
	}

	r := h.ensureRuntime(ctx)
	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.NewLoadError(errors.LoadInstantiationError,
			errors.Wrapf(err, "compile module %s", path))
	}

	name := fmt.Sprintf("ext-%d", instanceSeq.Add(1))
	mod, err := r.InstantiateModule(ctx, compiled,
		wazero.NewModuleConfig().WithName(name))
	if err != nil {
		compiled.Close(ctx)
		return nil, errors.NewLoadError(errors.LoadInstantiationError,
			errors.Wrapf(err, "instantiate module %s", path))
	}

	wm := &wasmModule{mod: mod, entry: entry}
	if err := wm.checkExports(); err != nil {
		mod.Close(ctx)
		return nil, err
	}

	adapter := &Adapter{caller: wm, modulePath: path}
	selfName, err := adapter.selfReportedName(ctx)
	if err != nil {
		mod.Close(ctx)
		return nil, errors.NewLoadError(errors.LoadInstantiationError,
			errors.Wrapf(err, "entry point %q name call", entry))
	}

	alias := spec.Alias
	if alias == "" {
		alias = selfName
	}
	adapter.name = alias

	logger.Logger.Infow("Extension provider loaded",
		"module", path,
		"entry_point", entry,
		"name", alias,
	)
	return adapter, nil
}

// wasmModule drives one instantiated module through the shared-memory
// string protocol. Callers must hold foreignMu.
type wasmModule struct {
	mod   api.Module
	entry string
}

func (w *wasmModule) checkExports() error {
	if w.mod.ExportedFunction(w.entry) == nil {
		return errors.NewLoadError(errors.LoadAttributeError,
			errors.Newf("module does not export entry point %q", w.entry))
	}
	if w.mod.ExportedFunction("ext_alloc") == nil || w.mod.ExportedFunction("ext_free") == nil {
		return errors.NewLoadError(errors.LoadAttributeError,
			errors.New("module does not export ext_alloc/ext_free"))
	}
	return nil
}

// Call sends one JSON command through the entry point and returns the
// JSON response.
func (w *wasmModule) Call(ctx context.Context, input string) (string, error) {
	allocFn := w.mod.ExportedFunction("ext_alloc")
	freeFn := w.mod.ExportedFunction("ext_free")
	targetFn := w.mod.ExportedFunction(w.entry)

	inputBytes := []byte(input)
	inputSize := uint64(len(inputBytes))

	var inputPtr uint64
	if inputSize > 0 {
		results, err := allocFn.Call(ctx, inputSize)
		if err != nil {
			return "", errors.Wrapf(err, "wasm alloc (size=%d)", inputSize)
		}
		inputPtr = results[0]
		if inputPtr == 0 {
			return "", errors.Newf("wasm alloc returned null (size=%d)", inputSize)
		}
		if !w.mod.Memory().Write(uint32(inputPtr), inputBytes) {
			freeFn.Call(ctx, inputPtr, inputSize)
			return "", errors.Newf("wasm memory write out of range at ptr=%d size=%d", inputPtr, inputSize)
		}
	}

	results, err := targetFn.Call(ctx, inputPtr, inputSize)
	if inputSize > 0 {
		// Input buffer is consumed either way
		freeFn.Call(ctx, inputPtr, inputSize)
	}
	if err != nil {
		return "", errors.Wrapf(err, "wasm call %s", w.entry)
	}
	if len(results) == 0 {
		return "", errors.Newf("wasm call %s returned no value", w.entry)
	}

	packed := results[0]
	outPtr := uint32(packed >> 32)
	outLen := uint32(packed)
	if outLen == 0 {
		return "", nil
	}
	outBytes, ok := w.mod.Memory().Read(outPtr, outLen)
	if !ok {
		return "", errors.Newf("wasm memory read out of range at ptr=%d size=%d", outPtr, outLen)
	}
	out := string(outBytes)
	freeFn.Call(ctx, uint64(outPtr), uint64(outLen))
	return out, nil
}
