// Package extension implements the extension host: manifest loading,
// permission bookkeeping, the instance registry, the lifecycle
// controller, and command dispatch into running guests.
package extension

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"glyph-ide/internal/domain"
)

// LoadManifest reads and validates extension.yaml from an extension
// directory. Validation failures wrap domain.ErrValidation; the caller
// never sees a half-valid manifest.
func LoadManifest(dir string) (*domain.ExtensionManifest, error) {
	const op = "extension.LoadManifest"

	path := filepath.Join(dir, domain.ManifestFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.WrapOp(op,
				fmt.Errorf("%w: missing %s", domain.ErrValidation, domain.ManifestFilename))
		}
		return nil, domain.WrapOp(op, err)
	}

	var manifest domain.ExtensionManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, domain.WrapOp(op, fmt.Errorf("%w: parse manifest: %v", domain.ErrValidation, err))
	}

	if err := validateManifest(dir, &manifest); err != nil {
		return nil, domain.WrapOp(op, err)
	}
	return &manifest, nil
}

// ExtensionID derives the stable identifier "publisher.name" used for
// install directories, permission records, and event attribution.
func ExtensionID(m *domain.ExtensionManifest) string {
	return m.Publisher + "." + m.Name
}

// TriggeredBy reports whether a trigger event should activate an
// extension. A manifest declaring no activation events is eager and
// responds to any trigger; "onCommand:x" is also covered by a bare
// "onCommand" declaration.
func TriggeredBy(m *domain.ExtensionManifest, trigger string) bool {
	if len(m.ActivationEvents) == 0 {
		return true
	}
	for _, event := range m.ActivationEvents {
		if event == trigger {
			return true
		}
		if prefix, _, ok := strings.Cut(trigger, ":"); ok && event == prefix {
			return true
		}
	}
	return false
}

func validateManifest(dir string, m *domain.ExtensionManifest) error {
	if m.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if strings.ContainsAny(m.Name, "/\\ ") {
		return fmt.Errorf("%w: name %q contains path or space characters", domain.ErrValidation, m.Name)
	}
	if m.Publisher == "" {
		return fmt.Errorf("%w: publisher is required", domain.ErrValidation)
	}
	if strings.ContainsAny(m.Publisher, "/\\ ") {
		return fmt.Errorf("%w: publisher %q contains path or space characters", domain.ErrValidation, m.Publisher)
	}

	if m.Version == "" {
		return fmt.Errorf("%w: version is required", domain.ErrValidation)
	}
	if _, err := semver.StrictNewVersion(m.Version); err != nil {
		return fmt.Errorf("%w: version %q is not semver: %v", domain.ErrValidation, m.Version, err)
	}

	if m.Runtime != domain.RuntimeWASI {
		return fmt.Errorf("%w: runtime %q is not supported (want %s)",
			domain.ErrValidation, m.Runtime, domain.RuntimeWASI)
	}

	if m.Main == "" {
		return fmt.Errorf("%w: main is required", domain.ErrValidation)
	}
	main := filepath.Clean(m.Main)
	if filepath.IsAbs(main) || strings.HasPrefix(main, "..") {
		return fmt.Errorf("%w: main %q must be relative to the package root", domain.ErrValidation, m.Main)
	}
	if _, err := os.Stat(filepath.Join(dir, main)); err != nil {
		return fmt.Errorf("%w: main %q not found in package", domain.ErrValidation, m.Main)
	}

	for _, perm := range m.Permissions {
		if err := validatePermissionPattern(perm); err != nil {
			return err
		}
	}
	for _, cmd := range m.Contributes.Commands {
		if cmd.ID == "" || cmd.Title == "" {
			return fmt.Errorf("%w: contributed commands need id and title", domain.ErrValidation)
		}
	}
	return nil
}

// validatePermissionPattern accepts colon-separated segments, each a
// literal token or "*". A "*" segment must be the last one; everything
// after it would be unreachable.
func validatePermissionPattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: empty permission", domain.ErrValidation)
	}
	segments := strings.Split(pattern, ":")
	for idx, seg := range segments {
		if seg == "" {
			return fmt.Errorf("%w: permission %q has an empty segment", domain.ErrValidation, pattern)
		}
		if seg == "*" && idx != len(segments)-1 {
			return fmt.Errorf("%w: permission %q: wildcard must be the final segment", domain.ErrValidation, pattern)
		}
		if seg != "*" && strings.Contains(seg, "*") {
			return fmt.Errorf("%w: permission %q: partial wildcards are not supported", domain.ErrValidation, pattern)
		}
	}
	return nil
}
