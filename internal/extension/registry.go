package extension

import (
	"context"
	"sort"
	"sync"

	"glyph-ide/internal/domain"
)

// Guest is the running sandbox surface the lifecycle and dispatcher
// drive. *wasm.Instance is the production implementation.
type Guest interface {
	HasExport(name string) bool
	CallExport(ctx context.Context, name string, params ...uint64) ([]uint64, error)
	WriteString(ctx context.Context, value string) (uint32, uint32, error)
	CallDeactivate(ctx context.Context) error
	Close(ctx context.Context) error
}

// Instance is one installed extension tracked by the registry. ID,
// Manifest, and InstallPath are fixed at install time; everything else
// changes under the instance's own lock as the lifecycle progresses.
type Instance struct {
	ID          string
	Manifest    *domain.ExtensionManifest
	InstallPath string

	mu       sync.Mutex
	state    domain.ExtensionState
	lastErr  error
	commands map[string]domain.RegisteredCommand
	sandbox  Guest
}

// NewInstance builds a freshly installed instance.
func NewInstance(id string, manifest *domain.ExtensionManifest, installPath string) *Instance {
	return &Instance{
		ID:          id,
		Manifest:    manifest,
		InstallPath: installPath,
		state:       domain.StateInstalled,
		commands:    make(map[string]domain.RegisteredCommand),
	}
}

// State returns the current lifecycle state.
func (i *Instance) State() domain.ExtensionState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// SetState transitions the instance. A nil err clears any prior error;
// entering StateError records the cause for later display.
func (i *Instance) SetState(state domain.ExtensionState, err error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = state
	i.lastErr = err
}

// LastError returns the error that put the instance into StateError.
func (i *Instance) LastError() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastErr
}

// Sandbox returns the running guest, or nil when not activated.
func (i *Instance) Sandbox() Guest {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.sandbox
}

// SetSandbox attaches or detaches the running guest.
func (i *Instance) SetSandbox(sb Guest) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sandbox = sb
}

// AddCommand records a command registered by the running guest.
func (i *Instance) AddCommand(cmd domain.RegisteredCommand) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.commands[cmd.ID] = cmd
}

// Command looks up a registered command by ID.
func (i *Instance) Command(id string) (domain.RegisteredCommand, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	cmd, ok := i.commands[id]
	return cmd, ok
}

// Commands lists registered commands sorted by ID.
func (i *Instance) Commands() []domain.RegisteredCommand {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]domain.RegisteredCommand, 0, len(i.commands))
	for _, cmd := range i.commands {
		out = append(out, cmd)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}

// ClearCommands drops all registered commands, used on deactivation.
func (i *Instance) ClearCommands() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.commands = make(map[string]domain.RegisteredCommand)
}

// Registry is the in-memory index of installed extensions.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]*Instance)}
}

// Get looks up an instance by extension ID.
func (r *Registry) Get(id string) (*Instance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// Put adds or replaces an instance.
func (r *Registry) Put(inst *Instance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[inst.ID] = inst
}

// Remove drops an instance from the index.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, id)
}

// List returns all instances sorted by ID.
func (r *Registry) List() []*Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out
}
