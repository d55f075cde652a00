package toolpack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Vini334/healthcost-copilot/internal/tool"
)

func writeManifest(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

func TestLoadDirParsesManifests(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeManifest(t, dir, "pack.yaml", `
version: "1"
defaults:
  timeoutSeconds: 5
tools:
  - name: consulta_rede
    description: Consulta a rede credenciada.
    endpoint:
      url: http://tools.internal/rede
  - name: ferramenta_desligada
    enabled: false
    endpoint:
      url: ""
`)
	writeManifest(t, dir, "ignorado.txt", "não é manifesto")

	manifests, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("load dir failed: %v", err)
	}
	if len(manifests) != 1 || len(manifests[0].Tools) != 2 {
		t.Fatalf("unexpected manifests: %+v", manifests)
	}
	if manifests[0].Defaults.TimeoutSeconds != 5 {
		t.Fatalf("defaults not parsed: %+v", manifests[0].Defaults)
	}
}

func TestValidateRejectsBadManifests(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		manifest Manifest
		fragment string
	}{
		{
			name: "duplicate names",
			manifest: Manifest{Tools: []ToolManifest{
				{Name: "a", Endpoint: Endpoint{URL: "http://x.internal/a"}},
				{Name: "a", Endpoint: Endpoint{URL: "http://x.internal/b"}},
			}},
			fragment: "duplicate",
		},
		{
			name:     "missing url",
			manifest: Manifest{Tools: []ToolManifest{{Name: "a"}}},
			fragment: "url cannot be empty",
		},
		{
			name: "bad method",
			manifest: Manifest{Tools: []ToolManifest{
				{Name: "a", Endpoint: Endpoint{URL: "http://x.internal/a", Method: "DELETE"}},
			}},
			fragment: "not supported",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.manifest.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.fragment) {
				t.Fatalf("expected error containing %q, got %v", tc.fragment, err)
			}
		})
	}
}

func TestApplyRegistersHTTPTools(t *testing.T) {
	t.Parallel()

	var gotBody map[string]any
	var gotHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("X-Origem")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"rede":["Hospital A","Clínica B"]}`))
	}))
	defer server.Close()

	manifest := Manifest{
		Defaults: Defaults{TimeoutSeconds: 2, Headers: map[string]string{"X-Origem": "copilot"}},
		Tools: []ToolManifest{{
			Name:        "consulta_rede",
			Description: "Consulta a rede credenciada.",
			Endpoint:    Endpoint{URL: server.URL},
			Parameters: []ParameterManifest{
				{Name: "municipio", Type: "string", Required: true},
			},
		}},
	}
	if err := manifest.Validate(); err != nil {
		t.Fatalf("manifest must validate: %v", err)
	}

	registry := tool.NewRegistry()
	loader := NewLoader()
	registered, err := loader.Apply(registry, manifest)
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if registered != 1 {
		t.Fatalf("expected 1 registered tool, got %d", registered)
	}

	def, ok := registry.Lookup("consulta_rede")
	if !ok {
		t.Fatalf("tool not registered")
	}
	if def.Timeout != 2*time.Second {
		t.Fatalf("default timeout not applied: %v", def.Timeout)
	}

	result := registry.Invoke(context.Background(), tool.Call{
		ID:        "c1",
		Name:      "consulta_rede",
		Arguments: map[string]any{"municipio": "São Paulo"},
	})
	if !result.Succeeded() {
		t.Fatalf("invoke failed: %+v", result)
	}
	if gotBody["municipio"] != "São Paulo" {
		t.Fatalf("arguments not forwarded: %+v", gotBody)
	}
	if gotHeader != "copilot" {
		t.Fatalf("default header not applied: %q", gotHeader)
	}
	payload, ok := result.Payload.(map[string]any)
	if !ok || payload["rede"] == nil {
		t.Fatalf("unexpected payload: %+v", result.Payload)
	}
}

func TestApplyEnforcesHostAllowlist(t *testing.T) {
	t.Parallel()

	manifest := Manifest{Tools: []ToolManifest{{
		Name:     "externa",
		Endpoint: Endpoint{URL: "http://fora.example.com/api"},
	}}}

	loader := NewLoader(WithAllowedHosts("tools.internal"))
	if _, err := loader.Apply(tool.NewRegistry(), manifest); err == nil || !strings.Contains(err.Error(), "allowlist") {
		t.Fatalf("expected allowlist error, got %v", err)
	}
}
