// Package toolpack loads declarative YAML manifests describing HTTP-backed
// tools and registers them into the executor's tool registry.
package toolpack

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Manifest groups the tools declared by a single pack file.
type Manifest struct {
	Version  string         `yaml:"version"`
	Defaults Defaults       `yaml:"defaults"`
	Tools    []ToolManifest `yaml:"tools"`
}

// Defaults apply to every tool in the pack unless overridden per endpoint.
type Defaults struct {
	TimeoutSeconds int               `yaml:"timeoutSeconds"`
	Headers        map[string]string `yaml:"headers"`
}

// ToolManifest declares a single callable tool.
type ToolManifest struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Enabled     *bool               `yaml:"enabled"`
	Endpoint    Endpoint            `yaml:"endpoint"`
	Parameters  []ParameterManifest `yaml:"parameters"`
}

// IsEnabled reports whether the tool should be registered. Tools are enabled
// unless the manifest says otherwise.
func (t ToolManifest) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// Endpoint describes where and how the tool is invoked.
type Endpoint struct {
	URL            string            `yaml:"url"`
	Method         string            `yaml:"method"`
	TimeoutSeconds int               `yaml:"timeoutSeconds"`
	Headers        map[string]string `yaml:"headers"`
}

// ParameterManifest mirrors the registry's parameter schema.
type ParameterManifest struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
	Default     any    `yaml:"default"`
}

// Load reads a single manifest file.
func Load(path string) (Manifest, error) {
	var manifest Manifest
	if path == "" {
		return manifest, errors.New("manifest path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return manifest, fmt.Errorf("read tool manifest: %w", err)
	}
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return manifest, fmt.Errorf("unmarshal tool manifest %s: %w", filepath.Base(path), err)
	}
	if err := manifest.Validate(); err != nil {
		return manifest, fmt.Errorf("manifest %s: %w", filepath.Base(path), err)
	}
	return manifest, nil
}

// LoadDir reads every *.yaml and *.yml manifest in the directory, in
// lexical order.
func LoadDir(dir string) ([]Manifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read tool pack directory: %w", err)
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(paths)

	manifests := make([]Manifest, 0, len(paths))
	for _, path := range paths {
		manifest, err := Load(path)
		if err != nil {
			return nil, err
		}
		manifests = append(manifests, manifest)
	}
	return manifests, nil
}

// Validate ensures the manifest is internally consistent.
func (m Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Tools))
	for _, t := range m.Tools {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return errors.New("tool name cannot be empty")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate tool name %q", name)
		}
		seen[name] = struct{}{}

		if !t.IsEnabled() {
			continue
		}
		if strings.TrimSpace(t.Endpoint.URL) == "" {
			return fmt.Errorf("tool %s endpoint url cannot be empty when enabled", name)
		}
		parsed, err := url.Parse(t.Endpoint.URL)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("tool %s endpoint url %q is not a valid http(s) url", name, t.Endpoint.URL)
		}
		switch strings.ToUpper(t.Endpoint.Method) {
		case "", "GET", "POST":
		default:
			return fmt.Errorf("tool %s endpoint method %q is not supported", name, t.Endpoint.Method)
		}
	}
	return nil
}
