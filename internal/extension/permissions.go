package extension

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"glyph-ide/internal/domain"
)

// Store holds permission declarations and grant decisions for every
// installed extension. Decisions persist as a single JSON document,
// rewritten atomically on every change; declarations are re-seeded from
// manifests at load time and live only in memory.
type Store struct {
	mu   sync.Mutex
	path string

	declared  map[string][]string        // extension ID -> manifest permission patterns
	decisions map[string]map[string]bool // extension ID -> pattern -> granted
	grantedAt map[string]map[string]time.Time

	logger *slog.Logger
}

// NewStore opens the persisted decision file, creating its directory if
// needed. A missing file is an empty store; a corrupt file is an error
// rather than a silent reset.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	const op = "extension.NewStore"
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		path:      path,
		declared:  make(map[string][]string),
		decisions: make(map[string]map[string]bool),
		grantedAt: make(map[string]map[string]time.Time),
		logger:    logger,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, domain.WrapOp(op, err)
	}
	if err := json.Unmarshal(data, &s.decisions); err != nil {
		return nil, domain.WrapOp(op, fmt.Errorf("%w: corrupt permission store: %v", domain.ErrValidation, err))
	}
	return s, nil
}

// Declare registers the manifest permissions for an extension and
// reconciles persisted decisions against them: new patterns start
// ungranted, decisions for patterns no longer declared are dropped.
func (s *Store) Declare(extensionID string, permissions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	declared := make([]string, len(permissions))
	copy(declared, permissions)
	s.declared[extensionID] = declared

	current := s.decisions[extensionID]
	next := make(map[string]bool, len(declared))
	for _, pattern := range declared {
		next[pattern] = current[pattern]
	}
	for pattern := range current {
		if _, ok := next[pattern]; !ok {
			s.logger.Info("dropping stale permission decision",
				"extension", extensionID,
				"permission", pattern,
			)
		}
	}
	s.decisions[extensionID] = next

	return s.persistLocked()
}

// Grant marks a declared permission as granted. Granting something the
// manifest never declared is refused; grants cannot widen the surface
// the user reviewed at install time.
func (s *Store) Grant(extensionID, permission string) error {
	const op = "extension.Grant"
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isDeclaredLocked(extensionID, permission) {
		return domain.WrapOp(op,
			fmt.Errorf("%w: %q is not declared by %s", domain.ErrPermissionDenied, permission, extensionID))
	}
	s.decisions[extensionID][permission] = true

	if s.grantedAt[extensionID] == nil {
		s.grantedAt[extensionID] = make(map[string]time.Time)
	}
	s.grantedAt[extensionID][permission] = time.Now()

	return domain.WrapOp(op, s.persistLocked())
}

// Revoke withdraws a grant. Revoking an undeclared permission is refused
// for symmetry with Grant; revoking an ungranted one is a no-op.
func (s *Store) Revoke(extensionID, permission string) error {
	const op = "extension.Revoke"
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isDeclaredLocked(extensionID, permission) {
		return domain.WrapOp(op,
			fmt.Errorf("%w: %q is not declared by %s", domain.ErrPermissionDenied, permission, extensionID))
	}
	s.decisions[extensionID][permission] = false
	delete(s.grantedAt[extensionID], permission)

	return domain.WrapOp(op, s.persistLocked())
}

// IsGranted reports whether any granted pattern covers the requested
// permission. This is the hot path behind every gated host call; it
// never touches disk.
func (s *Store) IsGranted(extensionID, permission string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.isGrantedLocked(extensionID, permission)
}

func (s *Store) isGrantedLocked(extensionID, permission string) bool {
	for pattern, granted := range s.decisions[extensionID] {
		if granted && matchPermission(pattern, permission) {
			return true
		}
	}
	return false
}

// Missing returns the declared permissions of an extension that no
// granted decision covers, in manifest order. A granted wildcard
// satisfies the narrower patterns it subsumes.
func (s *Store) Missing(extensionID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var missing []string
	for _, pattern := range s.declared[extensionID] {
		if !s.isGrantedLocked(extensionID, pattern) {
			missing = append(missing, pattern)
		}
	}
	return missing
}

// Grants lists the declared permissions and their decisions, sorted by
// pattern for stable display.
func (s *Store) Grants(extensionID string) []domain.PermissionGrant {
	s.mu.Lock()
	defer s.mu.Unlock()

	grants := make([]domain.PermissionGrant, 0, len(s.decisions[extensionID]))
	for pattern, granted := range s.decisions[extensionID] {
		grants = append(grants, domain.PermissionGrant{
			Permission: pattern,
			Granted:    granted,
			GrantedAt:  s.grantedAt[extensionID][pattern],
		})
	}
	sort.Slice(grants, func(i, j int) bool { return grants[i].Permission < grants[j].Permission })
	return grants
}

// Remove deletes all records for an uninstalled extension.
func (s *Store) Remove(extensionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.declared, extensionID)
	delete(s.decisions, extensionID)
	delete(s.grantedAt, extensionID)

	return domain.WrapOp("extension.Remove", s.persistLocked())
}

func (s *Store) isDeclaredLocked(extensionID, permission string) bool {
	for _, pattern := range s.declared[extensionID] {
		if pattern == permission {
			return true
		}
	}
	return false
}

// persistLocked rewrites the decision document. Write goes through a
// temp file and rename so a crash never leaves a truncated store.
func (s *Store) persistLocked() error {
	data, err := json.MarshalIndent(s.decisions, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// matchPermission reports whether a granted pattern covers a requested
// permission. Both are colon-separated; a "*" segment in the pattern
// covers the rest of the request ("fs:*" covers "fs:read" and
// "fs:read:config"). The reverse never holds: a grant for "fs:read"
// does not cover a request for "fs:*".
func matchPermission(pattern, request string) bool {
	if pattern == request {
		return true
	}

	patSegs := strings.Split(pattern, ":")
	reqSegs := strings.Split(request, ":")

	for i, seg := range patSegs {
		if seg == "*" {
			return true
		}
		if i >= len(reqSegs) || seg != reqSegs[i] {
			return false
		}
	}
	return len(patSegs) == len(reqSegs)
}

// RiskLevel classifies a permission pattern for grant prompts. Broader
// and more destructive patterns rank higher.
func RiskLevel(pattern string) domain.Risk {
	if pattern == "*" {
		return domain.RiskDangerous
	}
	root := pattern
	if idx := strings.Index(pattern, ":"); idx >= 0 {
		root = pattern[:idx]
	}

	switch root {
	case "exec", "process":
		return domain.RiskDangerous
	case "network":
		return domain.RiskHigh
	case "workspace":
		if pattern == domain.PermWorkspaceRead {
			return domain.RiskMedium
		}
		return domain.RiskHigh
	case "ui", "storage":
		return domain.RiskLow
	default:
		return domain.RiskMedium
	}
}
