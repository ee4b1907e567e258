package tool

import (
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/HCPTangHY/Lim-Code/internal/abort"
	"github.com/HCPTangHY/Lim-Code/internal/logging"
	"github.com/HCPTangHY/Lim-Code/internal/task"
)

// Registry manages tool registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	workDir string
}

// NewRegistry creates an empty tool registry.
func NewRegistry(workDir string) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		workDir: workDir,
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	log := logging.Component("tool")
	log.Debug().Str("tool", t.ID()).Msg("registering tool")
	r.tools[t.ID()] = t
}

// Unregister removes a tool by ID.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, id)
}

// Get retrieves a tool by ID.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	return t, ok
}

// List returns all registered tools.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	return tools
}

// IDs returns all tool IDs.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}
	return ids
}

// ToolInfos returns Eino tool infos for all registered tools.
func (r *Registry) ToolInfos() []*schema.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]*schema.ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		infos = append(infos, toolInfo(t))
	}
	return infos
}

// DefaultRegistry creates a registry with the built-in tools. Tools
// disabled in enabled (explicit false) are skipped; absent means on.
func DefaultRegistry(workDir string, enabled map[string]bool) *Registry {
	r := NewRegistry(workDir)

	register := func(t Tool) {
		if on, ok := enabled[t.ID()]; ok && !on {
			return
		}
		r.Register(t)
	}

	register(NewReadTool(workDir))
	register(NewEditTool(workDir))
	register(NewWebFetchTool())

	return r
}

// RegisterBgRemove registers the batch background-removal tool. Called
// separately once engines and the task manager are available.
func (r *Registry) RegisterBgRemove(engines map[string]Engine, tasks *task.Manager, aborts *abort.Registry) {
	if len(engines) == 0 {
		return
	}
	r.Register(NewBgRemoveTool(r.workDir, engines, tasks, aborts))
}
