package lifecycle

import (
	"os"
	"path/filepath"
	"testing"
)

const overrideYAML = `
tables:
  - kind: campaign
    initial_state: Draft
    states:
      Draft:
        transitions:
          - target: Active
            action: ACTIVATION
      Active:
        transitions:
          - target: Finished
            action: FINALIZATION
      Finished:
        terminal: true
`

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tables.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoadRegistryOverridesKind(t *testing.T) {
	r, err := LoadRegistry(writeTemp(t, overrideYAML))
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if !r.Allowed(KindCampaign, CampaignDraft, CampaignActive) {
		t.Error("override should allow Draft → Active")
	}
	if r.Allowed(KindCampaign, CampaignDraft, CampaignScheduled) {
		t.Error("override should replace the default campaign table")
	}
	if !r.Allowed(KindCall, CallPending, CallInCall) {
		t.Error("other kinds should keep their defaults")
	}
}

func TestLoadRegistryEmptyPath(t *testing.T) {
	r, err := LoadRegistry("")
	if err != nil {
		t.Fatalf("LoadRegistry: %v", err)
	}
	if !r.Allowed(KindCampaign, CampaignDraft, CampaignScheduled) {
		t.Error("expected default campaign table")
	}
}

func TestLoadTablesErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid yaml", "tables: [\n"},
		{"no tables", "tables: []\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadTables(writeTemp(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}

	if _, err := LoadTables(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadRegistryRejectsInvalidOverride(t *testing.T) {
	bad := `
tables:
  - kind: campaign
    initial_state: Draft
    states:
      Draft:
        transitions:
          - target: Nowhere
`
	if _, err := LoadRegistry(writeTemp(t, bad)); err == nil {
		t.Error("expected validation error")
	}
}
