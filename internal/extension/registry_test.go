package extension

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"glyph-ide/internal/domain"
)

func TestRegistry_PutGetRemove(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Get("acme.fmt")
	assert.False(t, ok)

	r.Put(NewInstance("acme.fmt", &domain.ExtensionManifest{Name: "fmt"}, "/tmp/acme.fmt"))
	inst, ok := r.Get("acme.fmt")
	require.True(t, ok)
	assert.Equal(t, domain.StateInstalled, inst.State())

	r.Remove("acme.fmt")
	_, ok = r.Get("acme.fmt")
	assert.False(t, ok)
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	r.Put(NewInstance("zeta.z", &domain.ExtensionManifest{}, ""))
	r.Put(NewInstance("acme.a", &domain.ExtensionManifest{}, ""))
	r.Put(NewInstance("mid.m", &domain.ExtensionManifest{}, ""))

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "acme.a", list[0].ID)
	assert.Equal(t, "mid.m", list[1].ID)
	assert.Equal(t, "zeta.z", list[2].ID)
}

func TestInstance_StateAndError(t *testing.T) {
	inst := NewInstance("acme.fmt", &domain.ExtensionManifest{}, "")

	inst.SetState(domain.StateError, domain.ErrSandboxInstantiation)
	assert.Equal(t, domain.StateError, inst.State())
	assert.ErrorIs(t, inst.LastError(), domain.ErrSandboxInstantiation)

	inst.SetState(domain.StateInstalled, nil)
	assert.NoError(t, inst.LastError())
}

func TestInstance_Commands(t *testing.T) {
	inst := NewInstance("acme.fmt", &domain.ExtensionManifest{}, "")
	inst.AddCommand(domain.RegisteredCommand{ID: "b.cmd", Owner: "acme.fmt"})
	inst.AddCommand(domain.RegisteredCommand{ID: "a.cmd", Owner: "acme.fmt"})

	cmds := inst.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "a.cmd", cmds[0].ID)

	_, ok := inst.Command("b.cmd")
	assert.True(t, ok)

	inst.ClearCommands()
	assert.Empty(t, inst.Commands())
}
