package policyhost

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

const (
	defaultMemoryLimit = 16 << 20 // bytes
	resultMaxBytes     = 1 << 20
	wasmPageSize       = 65536
)

// SandboxConfig restricts the policy sandbox.
type SandboxConfig struct {
	MemoryLimitBytes int64
}

// WASMModule runs a compiled policy binary under wazero. Deny-by-default: no
// WASI, no filesystem, no clock, no randomness. The guest exports
// `allocate(size) -> ptr` and `authorize_json(ptr, len) -> ptr`; the result
// pointer addresses a little-endian u32 length followed by the JSON payload.
type WASMModule struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	modCfg   wazero.ModuleConfig

	mu        sync.Mutex
	mod       api.Module
	authorize api.Function
	allocate  api.Function
	free      api.Function
}

// NewWASMModule compiles wasmBytes and instantiates the policy module.
func NewWASMModule(ctx context.Context, wasmBytes []byte, cfg SandboxConfig) (*WASMModule, error) {
	if cfg.MemoryLimitBytes <= 0 {
		cfg.MemoryLimitBytes = defaultMemoryLimit
	}
	pages := uint32(cfg.MemoryLimitBytes / wasmPageSize)
	if pages == 0 {
		pages = 1
	}
	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(pages).
		WithCloseOnContextDone(true)

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("compile policy module: %w", err)
	}

	m := &WASMModule{
		runtime:  r,
		compiled: compiled,
		// Anonymous reactor module: no _start, nothing registered by name.
		modCfg: wazero.NewModuleConfig().WithName("").WithStartFunctions(),
	}
	if err := m.instantiateLocked(ctx); err != nil {
		_ = r.Close(ctx)
		return nil, err
	}
	return m, nil
}

// LoadWASMModule reads a policy binary from disk.
func LoadWASMModule(ctx context.Context, path string, cfg SandboxConfig) (*WASMModule, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy module: %w", err)
	}
	return NewWASMModule(ctx, wasmBytes, cfg)
}

func (m *WASMModule) instantiateLocked(ctx context.Context) error {
	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, m.modCfg)
	if err != nil {
		return fmt.Errorf("instantiate policy module: %w", err)
	}
	authorize := mod.ExportedFunction("authorize_json")
	if authorize == nil {
		_ = mod.Close(ctx)
		return fmt.Errorf("policy module does not export authorize_json")
	}
	allocate := mod.ExportedFunction("allocate")
	if allocate == nil {
		_ = mod.Close(ctx)
		return fmt.Errorf("policy module does not export allocate")
	}
	m.mod = mod
	m.authorize = authorize
	m.allocate = allocate
	m.free = mod.ExportedFunction("deallocate")
	return nil
}

// teardownLocked drops the (possibly trap-poisoned or deadline-closed)
// instance so the next call starts from a fresh one.
func (m *WASMModule) teardownLocked() {
	if m.mod != nil {
		_ = m.mod.Close(context.Background())
	}
	m.mod = nil
	m.authorize = nil
	m.allocate = nil
	m.free = nil
}

// Authorize implements Module.
func (m *WASMModule) Authorize(ctx context.Context, input []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mod == nil {
		if err := m.instantiateLocked(ctx); err != nil {
			return nil, err
		}
	}

	res, err := m.allocate.Call(ctx, uint64(len(input)))
	if err != nil {
		m.teardownLocked()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("policy allocate: %w", err)
	}
	in := uint32(res[0])
	if !m.mod.Memory().Write(in, input) {
		m.teardownLocked()
		return nil, fmt.Errorf("policy input write at %d out of range", in)
	}

	res, err = m.authorize.Call(ctx, uint64(in), uint64(len(input)))
	if err != nil {
		m.teardownLocked()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("policy authorize_json: %w", err)
	}
	out := uint32(res[0])

	n, ok := m.mod.Memory().ReadUint32Le(out)
	if !ok {
		m.teardownLocked()
		return nil, fmt.Errorf("policy result length at %d out of range", out)
	}
	if n == 0 || n > resultMaxBytes {
		m.teardownLocked()
		return nil, fmt.Errorf("implausible policy result length %d", n)
	}
	payload, ok := m.mod.Memory().Read(out+4, n)
	if !ok {
		m.teardownLocked()
		return nil, fmt.Errorf("policy result read at %d out of range", out)
	}
	result := make([]byte, n)
	copy(result, payload)

	if m.free != nil {
		_, _ = m.free.Call(ctx, uint64(out), uint64(n+4))
	}
	return result, nil
}

// Close implements Module.
func (m *WASMModule) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked()
	return m.runtime.Close(ctx)
}

var _ Module = (*WASMModule)(nil)
