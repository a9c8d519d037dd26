package wasm

import (
	"crypto/rand"
	"os"
	"time"

	"github.com/tetratelabs/wazero"
)

// Guest mount points. The install directory is always visible; storage
// and workspace appear only when the matching permission is granted.
const (
	MountExtension = "/ext"
	MountStorage   = "/storage"
	MountWorkspace = "/workspace"
)

// Sandbox describes the environment an extension instance runs in. Empty
// StorageDir/WorkspaceDir mean the corresponding permission was not
// granted and the directory is not preopened at all.
type Sandbox struct {
	InstallDir   string
	StorageDir   string
	WorkspaceDir string
	MaxMemoryMB  int
	ExecTimeout  time.Duration
}

// defaults applied when the caller leaves limits unset.
const (
	defaultMaxMemoryMB = 64
	defaultExecTimeout = 30 * time.Second
)

func (s Sandbox) maxMemoryMB() int {
	if s.MaxMemoryMB <= 0 {
		return defaultMaxMemoryMB
	}
	return s.MaxMemoryMB
}

func (s Sandbox) execTimeout() time.Duration {
	if s.ExecTimeout <= 0 {
		return defaultExecTimeout
	}
	return s.ExecTimeout
}

// MemoryPages converts the memory limit to 64KB WASM pages.
func (s Sandbox) MemoryPages() uint32 {
	return uint32(s.maxMemoryMB()) * 16 // 1 MB = 16 pages of 64KB
}

// fsConfig builds the WASI preopen set. These mounts are the ONLY
// filesystem subtrees the guest can address through WASI; everything
// else goes through the gated host functions.
func (s Sandbox) fsConfig() wazero.FSConfig {
	fs := wazero.NewFSConfig().WithReadOnlyDirMount(s.InstallDir, MountExtension)
	if s.StorageDir != "" {
		fs = fs.WithDirMount(s.StorageDir, MountStorage)
	}
	if s.WorkspaceDir != "" {
		fs = fs.WithReadOnlyDirMount(s.WorkspaceDir, MountWorkspace)
	}
	return fs
}

// moduleConfig builds the guest module configuration: preopens, time and
// randomness syscalls, stderr for guest diagnostics. No env vars and no
// stdin are inherited. _start is not called automatically; the host
// drives _initialize explicitly.
func (s Sandbox) moduleConfig(name string) wazero.ModuleConfig {
	return wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions().
		WithFSConfig(s.fsConfig()).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader).
		WithStderr(os.Stderr)
}
