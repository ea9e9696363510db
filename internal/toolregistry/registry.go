package toolregistry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"aide/internal/agent/ports"
	"aide/internal/tools/builtin"
)

// Registry implements ports.ToolRegistry with a two-tier lookup: builtins
// registered at construction and dynamic tools added at runtime. Builtins
// cannot be replaced or removed.
type Registry struct {
	static         map[string]ports.ToolExecutor
	dynamic        map[string]ports.ToolExecutor
	allowDangerous bool
	mu             sync.RWMutex
}

type Config struct {
	// Workspace is the directory run_command executes in.
	Workspace string
	// AllowDangerous permits execution of tools flagged dangerous. When
	// false those tools stay listed but every call returns a structured
	// refusal.
	AllowDangerous bool
	FetchTimeout   time.Duration
	CommandTimeout time.Duration
	// CacheResults wraps cache-safe builtins with an LRU result cache.
	CacheResults bool
	Cache        CacheConfig
}

func NewRegistry(config Config) *Registry {
	r := &Registry{
		static:         make(map[string]ports.ToolExecutor),
		dynamic:        make(map[string]ports.ToolExecutor),
		allowDangerous: config.AllowDangerous,
	}
	r.registerBuiltins(config)
	return r
}

func (r *Registry) Register(tool ports.ToolExecutor) error {
	if tool == nil {
		return fmt.Errorf("nil tool")
	}
	name := strings.TrimSpace(tool.Metadata().Name)
	if name == "" {
		return fmt.Errorf("tool has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.static[name]; exists {
		return fmt.Errorf("tool already exists: %s", name)
	}
	if _, exists := r.dynamic[name]; exists {
		return fmt.Errorf("tool already exists: %s", name)
	}
	r.dynamic[name] = r.guard(tool)
	return nil
}

func (r *Registry) Get(name string) (ports.ToolExecutor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool, ok := r.static[name]; ok {
		return tool, nil
	}
	if tool, ok := r.dynamic[name]; ok {
		return tool, nil
	}
	return nil, fmt.Errorf("tool not found: %s", name)
}

// List returns definitions sorted by name so reasoning requests built from
// the same registry are byte-identical, which keeps response cache keys
// stable.
func (r *Registry) List() []ports.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]ports.ToolDefinition, 0, len(r.static)+len(r.dynamic))
	for _, tool := range r.static {
		defs = append(defs, tool.Definition())
	}
	for _, tool := range r.dynamic {
		defs = append(defs, tool.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.static[name]; ok {
		return fmt.Errorf("cannot unregister built-in tool: %s", name)
	}
	delete(r.dynamic, name)
	return nil
}

func (r *Registry) registerBuiltins(config Config) {
	runCmd := builtin.NewRunCommand(builtin.RunCommandConfig{
		Workdir: config.Workspace,
		Timeout: config.CommandTimeout,
	})

	fetch := builtin.NewHTTPFetch(builtin.HTTPFetchConfig{Timeout: config.FetchTimeout})
	if config.CacheResults {
		fetch = NewCacheExecutor(fetch, config.Cache)
	}

	r.static["run_command"] = r.guard(runCmd)
	r.static["http_fetch"] = r.guard(fetch)
}

// guard wraps dangerous tools with the refusal executor unless the registry
// was built with AllowDangerous.
func (r *Registry) guard(tool ports.ToolExecutor) ports.ToolExecutor {
	if r.allowDangerous || !tool.Metadata().Dangerous {
		return tool
	}
	return NewGuardedExecutor(tool)
}

var _ ports.ToolRegistry = (*Registry)(nil)
