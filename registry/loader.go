package registry

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"go.yaml.in/yaml/v3"
	"golang.org/x/crypto/blake2b"
)

// ManifestSuffix is the file suffix of component manifests.
const ManifestSuffix = ".component.yaml"

// DigestPrefix qualifies the module digest algorithm in manifests.
const DigestPrefix = "blake2b-256:"

// Manifest is the on-disk description of a component.
type Manifest struct {
	ComponentSpec `yaml:",inline"`
	// Module is the module path, relative to the manifest.
	Module string `yaml:"module,omitempty"`
	// Digest pins the module content, "blake2b-256:<hex>".
	Digest string `yaml:"digest,omitempty"`
}

// Inspector reads the spec a module describes itself with. It returns a
// nil spec when the module carries no self-description.
type Inspector func(module []byte) (*ComponentSpec, error)

// LoadOption configures manifest loading.
type LoadOption func(*loadOptions)

type loadOptions struct {
	inspect Inspector
}

// WithInspector cross-checks every manifest that ships a module against the
// module's own description: ports and capabilities must agree.
func WithInspector(fn Inspector) LoadOption {
	return func(o *loadOptions) { o.inspect = fn }
}

// LoadDir registers every manifest found directly in dir and returns how
// many were loaded. Loading stops at the first invalid manifest.
func LoadDir(r *Registry, dir string, opts ...LoadOption) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*"+ManifestSuffix))
	if err != nil {
		return 0, fmt.Errorf("registry: scanning %s: %w", dir, err)
	}
	sort.Strings(paths)

	for i, path := range paths {
		if err := LoadManifest(r, path, opts...); err != nil {
			return i, err
		}
	}
	return len(paths), nil
}

// LoadManifest parses one manifest file, verifies its module digest and
// registers it.
func LoadManifest(r *Registry, path string, opts ...LoadOption) error {
	var o loadOptions
	for _, opt := range opts {
		opt(&o)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("registry: reading %s: %w", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("registry: parsing %s: %w", path, err)
	}

	var regOpts []RegisterOption
	if m.Module != "" {
		modPath := m.Module
		if !filepath.IsAbs(modPath) {
			modPath = filepath.Join(filepath.Dir(path), modPath)
		}
		module, err := os.ReadFile(modPath)
		if err != nil {
			return fmt.Errorf("registry: %s: reading module: %w", path, err)
		}
		if err := VerifyDigest(module, m.Digest); err != nil {
			return fmt.Errorf("registry: %s: %w", path, err)
		}
		if o.inspect != nil {
			described, err := o.inspect(module)
			if err != nil {
				return fmt.Errorf("registry: %s: inspecting module: %w", path, err)
			}
			if described != nil {
				if err := agree(&m.ComponentSpec, described); err != nil {
					return fmt.Errorf("registry: %s: manifest and module disagree: %w", path, err)
				}
			}
		}
		regOpts = append(regOpts, WithModule(module))
		if m.Runtime == "" {
			m.Runtime = RuntimeWasm
		}
	}
	return r.Register(m.ComponentSpec, regOpts...)
}

// agree compares the manifest with what the module says about itself.
func agree(manifest, described *ComponentSpec) error {
	if described.ID != "" && described.ID != manifest.ID {
		return fmt.Errorf("id %q, module says %q", manifest.ID, described.ID)
	}
	if err := samePorts("input", manifest.Inputs, described.Inputs); err != nil {
		return err
	}
	if err := samePorts("output", manifest.Outputs, described.Outputs); err != nil {
		return err
	}
	want := slices.Sorted(slices.Values(manifest.Capabilities))
	got := slices.Sorted(slices.Values(described.Capabilities))
	if !slices.Equal(want, got) {
		return fmt.Errorf("capabilities %v, module says %v", want, got)
	}
	return nil
}

func samePorts(kind string, manifest, described []Port) error {
	if len(manifest) != len(described) {
		return fmt.Errorf("%d %ss, module says %d", len(manifest), kind, len(described))
	}
	for i, p := range manifest {
		d := described[i]
		if p.Name != d.Name || p.Type != d.Type || p.Required != d.Required {
			return fmt.Errorf("%s %d is %s %s, module says %s %s", kind, i, p.Name, p.Type, d.Name, d.Type)
		}
	}
	return nil
}

// Digest returns the manifest digest string of module.
func Digest(module []byte) string {
	sum := blake2b.Sum256(module)
	return DigestPrefix + hex.EncodeToString(sum[:])
}

// VerifyDigest checks module against an expected digest. An empty expected
// digest is accepted.
func VerifyDigest(module []byte, expected string) error {
	if expected == "" {
		return nil
	}
	if !strings.HasPrefix(expected, DigestPrefix) {
		return fmt.Errorf("unsupported digest %q, expected %s<hex>", expected, DigestPrefix)
	}
	if got := Digest(module); !strings.EqualFold(got, expected) {
		return fmt.Errorf("module digest mismatch: manifest %s, file %s", expected, got)
	}
	return nil
}
