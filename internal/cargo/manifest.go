package cargo

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// PackageMetadata is the subset of [package] fields used to name and
// describe the bundle artifact.
type PackageMetadata struct {
	Name        string
	Version     string
	License     string
	Description string
	Homepage    string
}

// WorkspaceManifestError reports a Cargo.toml that declares a workspace but
// no package. The caller should be pointed at one of the members instead.
type WorkspaceManifestError struct {
	Path    string
	Members []string
}

func (e *WorkspaceManifestError) Error() string {
	return fmt.Sprintf("%s is a workspace root without a [package] table (members: %s)",
		e.Path, strings.Join(e.Members, " "))
}

type manifestDoc struct {
	Package   map[string]any `toml:"package"`
	Workspace struct {
		Members []string       `toml:"members"`
		Package map[string]any `toml:"package"`
	} `toml:"workspace"`
}

// ReadPackageMetadata reads the [package] table of a Cargo.toml. Fields
// declared as { workspace = true } are resolved against workspaceMeta, the
// [workspace.package] table of the enclosing workspace manifest.
func ReadPackageMetadata(path string, workspaceMeta map[string]any) (PackageMetadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return PackageMetadata{}, fmt.Errorf("reading manifest: %w", err)
	}

	var doc manifestDoc
	if err := toml.Unmarshal(data, &doc); err != nil {
		return PackageMetadata{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	if doc.Package == nil {
		if len(doc.Workspace.Members) > 0 {
			return PackageMetadata{}, &WorkspaceManifestError{Path: path, Members: doc.Workspace.Members}
		}
		return PackageMetadata{}, fmt.Errorf("%s has no [package] table", path)
	}

	meta := PackageMetadata{}
	for _, field := range []struct {
		key      string
		dst      *string
		required bool
	}{
		{"name", &meta.Name, true},
		{"version", &meta.Version, true},
		{"license", &meta.License, false},
		{"description", &meta.Description, false},
		{"homepage", &meta.Homepage, false},
	} {
		value, err := resolveManifestField(doc.Package, workspaceMeta, field.key)
		if err != nil {
			return PackageMetadata{}, fmt.Errorf("%s: %w", path, err)
		}
		if value == "" && field.required {
			return PackageMetadata{}, fmt.Errorf("%s: package %s is missing", path, field.key)
		}
		*field.dst = value
	}
	return meta, nil
}

// resolveManifestField reads pkg[key], following the { workspace = true }
// indirection into the workspace metadata table.
func resolveManifestField(pkg, workspaceMeta map[string]any, key string) (string, error) {
	raw, ok := pkg[key]
	if !ok {
		return "", nil
	}

	switch v := raw.(type) {
	case string:
		return v, nil
	case map[string]any:
		if inherit, _ := v["workspace"].(bool); !inherit {
			return "", fmt.Errorf("package %s has an unsupported table value", key)
		}
		inherited, ok := workspaceMeta[key]
		if !ok {
			return "", fmt.Errorf("package %s inherits from the workspace, but the workspace does not define it", key)
		}
		s, ok := inherited.(string)
		if !ok {
			return "", fmt.Errorf("workspace %s is not a string", key)
		}
		return s, nil
	default:
		return "", fmt.Errorf("package %s has an unsupported value type %T", key, raw)
	}
}
