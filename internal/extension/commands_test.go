package extension

import (
	"context"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glyph-ide/internal/domain"
)

// stubGuest stands in for a running sandbox; callErr is what every
// exported call returns.
type stubGuest struct {
	callErr error
	calls   []string
}

func (g *stubGuest) HasExport(name string) bool { return name == "handle_command" }

func (g *stubGuest) CallExport(_ context.Context, name string, _ ...uint64) ([]uint64, error) {
	g.calls = append(g.calls, name)
	return nil, g.callErr
}

func (g *stubGuest) WriteString(_ context.Context, value string) (uint32, uint32, error) {
	return 8, uint32(len(value)), nil
}

func (g *stubGuest) CallDeactivate(context.Context) error { return nil }
func (g *stubGuest) Close(context.Context) error          { return nil }

func TestDispatcher_UnknownCommand(t *testing.T) {
	d := NewDispatcher(NewRegistry(), &recordingBus{}, nil, slog.Default())

	err := d.Execute(context.Background(), "fmt.document", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrCommandNotFound)
}

func TestDispatcher_IgnoresInactiveOwners(t *testing.T) {
	registry := NewRegistry()
	inst := NewInstance("acme.fmt", &domain.ExtensionManifest{Name: "fmt", Publisher: "acme"}, "/tmp/acme.fmt")
	inst.AddCommand(domain.RegisteredCommand{ID: "fmt.document", Owner: "acme.fmt"})
	registry.Put(inst)

	d := NewDispatcher(registry, &recordingBus{}, nil, slog.Default())

	// Owner is installed, not activated: its commands are not callable.
	err := d.Execute(context.Background(), "fmt.document", nil)
	assert.ErrorIs(t, err, domain.ErrCommandNotFound)
	assert.Empty(t, d.Commands())
}

func TestDispatcher_CommandsListsActivatedOnly(t *testing.T) {
	registry := NewRegistry()

	active := NewInstance("acme.fmt", &domain.ExtensionManifest{}, "")
	active.SetState(domain.StateActivated, nil)
	active.AddCommand(domain.RegisteredCommand{ID: "fmt.document", Owner: "acme.fmt"})
	registry.Put(active)

	idle := NewInstance("beta.lint", &domain.ExtensionManifest{}, "")
	idle.AddCommand(domain.RegisteredCommand{ID: "lint.run", Owner: "beta.lint"})
	registry.Put(idle)

	d := NewDispatcher(registry, nil, nil, slog.Default())
	cmds := d.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "fmt.document", cmds[0].ID)
}

func TestDispatcher_TimeoutDeactivatesOwner(t *testing.T) {
	h := newHarness(t)
	id := h.install(t)

	inst, _ := h.controller.Get(id)
	inst.SetState(domain.StateActivated, nil)
	inst.AddCommand(domain.RegisteredCommand{ID: "fmt.document", Owner: id})
	guest := &stubGuest{callErr: fmt.Errorf("%w: handle_command after 30s", domain.ErrTimeout)}
	inst.SetSandbox(guest)

	d := NewDispatcher(h.registry, h.bus, h.controller, slog.Default())
	err := d.Execute(context.Background(), "fmt.document", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTimeout)

	// The killed guest must be fully reclaimed: no dead handles, no
	// dispatchable commands, no activated state left behind.
	assert.Equal(t, domain.StateDeactivated, inst.State())
	assert.Nil(t, inst.Sandbox())
	assert.Empty(t, inst.Commands())
	assert.Contains(t, h.bus.types(), domain.EventExtensionDeactivated)

	err = d.Execute(context.Background(), "fmt.document", nil)
	assert.ErrorIs(t, err, domain.ErrCommandNotFound)
}

func TestDispatcher_GuestErrorKeepsOwnerActivated(t *testing.T) {
	h := newHarness(t)
	id := h.install(t)

	inst, _ := h.controller.Get(id)
	inst.SetState(domain.StateActivated, nil)
	inst.AddCommand(domain.RegisteredCommand{ID: "fmt.document", Owner: id})
	inst.SetSandbox(&stubGuest{callErr: fmt.Errorf("guest trapped")})

	d := NewDispatcher(h.registry, h.bus, h.controller, slog.Default())
	err := d.Execute(context.Background(), "fmt.document", nil)
	require.Error(t, err)

	assert.Equal(t, domain.StateActivated, inst.State())
	assert.NotNil(t, inst.Sandbox())
}

func TestSanitizeExport(t *testing.T) {
	assert.Equal(t, "fmt_document", sanitizeExport("fmt.document"))
	assert.Equal(t, "glyph_fmt_doc", sanitizeExport("glyph.fmt-doc"))
	assert.Equal(t, "already_fine_123", sanitizeExport("already_fine_123"))
	assert.Equal(t, "___", sanitizeExport(" .:"))
}
