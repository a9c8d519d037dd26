package wasm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSandbox_Defaults(t *testing.T) {
	sb := Sandbox{InstallDir: "/tmp/ext"}

	assert.Equal(t, 64, sb.maxMemoryMB())
	assert.Equal(t, 30*time.Second, sb.execTimeout())
}

func TestSandbox_ExplicitLimits(t *testing.T) {
	sb := Sandbox{MaxMemoryMB: 128, ExecTimeout: 10 * time.Second}

	assert.Equal(t, 128, sb.maxMemoryMB())
	assert.Equal(t, 10*time.Second, sb.execTimeout())
}

func TestSandbox_MemoryPages(t *testing.T) {
	sb := Sandbox{MaxMemoryMB: 64}
	assert.Equal(t, uint32(1024), sb.MemoryPages()) // 64 * 16 = 1024
}
