package domain

import (
	"time"
)

// RuntimeWASI is the only guest runtime this host supports. Manifests
// declaring any other runtime tag fail validation.
const RuntimeWASI = "wasm32-wasip1"

// ManifestFilename is the declaration file every extension package must
// carry at its root.
const ManifestFilename = "extension.yaml"

// ExtensionState is the lifecycle state of an installed extension.
type ExtensionState string

const (
	StateInstalled   ExtensionState = "installed"
	StateActivated   ExtensionState = "activated"
	StateDeactivated ExtensionState = "deactivated"
	StateError       ExtensionState = "error"
)

// CommandContribution declares a command the extension offers to the UI.
type CommandContribution struct {
	ID       string `json:"id"       yaml:"id"`
	Title    string `json:"title"    yaml:"title"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

// MenuContribution places a command into a UI menu.
type MenuContribution struct {
	Menu    string `json:"menu"    yaml:"menu"`
	Command string `json:"command" yaml:"command"`
	Group   string `json:"group,omitempty" yaml:"group,omitempty"`
}

// KeybindingContribution binds a key chord to a command.
type KeybindingContribution struct {
	Key     string `json:"key"     yaml:"key"`
	Command string `json:"command" yaml:"command"`
	When    string `json:"when,omitempty" yaml:"when,omitempty"`
}

// LanguageContribution declares a language the extension supports.
type LanguageContribution struct {
	ID         string   `json:"id"         yaml:"id"`
	Extensions []string `json:"extensions" yaml:"extensions"`
	Aliases    []string `json:"aliases,omitempty" yaml:"aliases,omitempty"`
}

// Contributions groups the UI surface an extension contributes.
type Contributions struct {
	Commands    []CommandContribution    `json:"commands,omitempty"    yaml:"commands,omitempty"`
	Menus       []MenuContribution       `json:"menus,omitempty"       yaml:"menus,omitempty"`
	Keybindings []KeybindingContribution `json:"keybindings,omitempty" yaml:"keybindings,omitempty"`
	Languages   []LanguageContribution   `json:"languages,omitempty"   yaml:"languages,omitempty"`
}

// ExtensionManifest is the parsed, validated extension.yaml. It is
// immutable once loaded; a reinstall re-reads it from disk.
type ExtensionManifest struct {
	Name             string        `json:"name"              yaml:"name"`
	Publisher        string        `json:"publisher"         yaml:"publisher"`
	Version          string        `json:"version"           yaml:"version"`
	Description      string        `json:"description,omitempty" yaml:"description,omitempty"`
	Runtime          string        `json:"runtime"           yaml:"runtime"`
	Main             string        `json:"main"              yaml:"main"`
	Permissions      []string      `json:"permissions,omitempty"       yaml:"permissions,omitempty"`
	ActivationEvents []string      `json:"activation_events,omitempty" yaml:"activation_events,omitempty"`
	Contributes      Contributions `json:"contributes,omitempty"       yaml:"contributes,omitempty"`
}

// PermissionGrant pairs a declared permission with its current decision.
// A grant can only be true for permissions declared in the manifest.
type PermissionGrant struct {
	Permission string    `json:"permission"`
	Granted    bool      `json:"granted"`
	GrantedAt  time.Time `json:"granted_at,omitempty"`
}

// RegisteredCommand is a command a running extension registered through
// the host bridge. Entries exist only while the owner is activated.
type RegisteredCommand struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
	Owner    string `json:"owner"`
}

// Well-known permission strings checked by the host bridge. Manifests may
// declare wildcard patterns (e.g. "workspace:*") that cover these.
const (
	PermUINotifications = "ui:notifications"
	PermUICommands      = "ui:commands"
	PermWorkspaceRead   = "workspace:read"
	PermWorkspaceWrite  = "workspace:write"
	PermStorageLocal    = "storage:local"
	PermNetworkFetch    = "network:fetch"
)

// Risk classifies how dangerous a permission is, for grant UX.
type Risk string

const (
	RiskLow       Risk = "low"
	RiskMedium    Risk = "medium"
	RiskHigh      Risk = "high"
	RiskDangerous Risk = "dangerous"
)

// Result is the structured outcome surfaced to callers of lifecycle
// operations. Failures never crash the host process.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// OK builds a successful Result.
func OK(message string) Result {
	return Result{Success: true, Message: message}
}

// Fail builds a failed Result from an error.
func Fail(err error) Result {
	return Result{Success: false, Message: err.Error()}
}
