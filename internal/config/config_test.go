// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

backend:
  endpoint: "https://foundry.example.com/api"
  agent_name: "helpdesk-agent"
  api_key: "key-123"

database:
  path: "./test.db"

dialog:
  suppressed_action_ids:
    - "router-agent-node"
    - "triage-node"

dedupe:
  ttl: "10m"
  max_size: 500

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Backend.Endpoint != "https://foundry.example.com/api" {
		t.Errorf("Backend.Endpoint = %q", cfg.Backend.Endpoint)
	}
	if cfg.Backend.AgentName != "helpdesk-agent" {
		t.Errorf("Backend.AgentName = %q", cfg.Backend.AgentName)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if len(cfg.Dialog.SuppressedActionIDs) != 2 || cfg.Dialog.SuppressedActionIDs[1] != "triage-node" {
		t.Errorf("Dialog.SuppressedActionIDs = %v", cfg.Dialog.SuppressedActionIDs)
	}
	if cfg.Dedupe.TTL != 10*time.Minute {
		t.Errorf("Dedupe.TTL = %v, want 10m", cfg.Dedupe.TTL)
	}
	if cfg.Dedupe.MaxSize != 500 {
		t.Errorf("Dedupe.MaxSize = %d, want 500", cfg.Dedupe.MaxSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, `
backend:
  endpoint: "https://foundry.example.com/api"
  agent_name: "helpdesk-agent"

database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != defaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want default %q", cfg.Server.HTTPAddr, defaultHTTPAddr)
	}
	if cfg.Dedupe.TTL != defaultDedupeTTL {
		t.Errorf("Dedupe.TTL = %v, want default %v", cfg.Dedupe.TTL, defaultDedupeTTL)
	}
	if cfg.Dedupe.MaxSize != defaultDedupeMaxSize {
		t.Errorf("Dedupe.MaxSize = %d, want default %d", cfg.Dedupe.MaxSize, defaultDedupeMaxSize)
	}
	if len(cfg.Dialog.SuppressedActionIDs) != 1 || cfg.Dialog.SuppressedActionIDs[0] != "router-agent-node" {
		t.Errorf("Dialog.SuppressedActionIDs = %v, want default router node", cfg.Dialog.SuppressedActionIDs)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("PARLEY_TEST_API_KEY", "secret-from-env")
	configPath := writeConfig(t, `
backend:
  endpoint: "https://foundry.example.com/api"
  agent_name: "helpdesk-agent"
  api_key: "${PARLEY_TEST_API_KEY}"

database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.APIKey != "secret-from-env" {
		t.Errorf("Backend.APIKey = %q, want %q", cfg.Backend.APIKey, "secret-from-env")
	}
}

func TestLoad_UnsetEnvVarBecomesEmpty(t *testing.T) {
	configPath := writeConfig(t, `
backend:
  endpoint: "https://foundry.example.com/api"
  agent_name: "helpdesk-agent"
  api_key: "${PARLEY_TEST_DEFINITELY_UNSET}"

database:
  path: "./test.db"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.APIKey != "" {
		t.Errorf("Backend.APIKey = %q, want empty", cfg.Backend.APIKey)
	}
}

func TestLoad_MissingRequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing endpoint",
			content: `
backend:
  agent_name: "helpdesk-agent"
database:
  path: "./test.db"
`,
			wantErr: "backend.endpoint",
		},
		{
			name: "missing agent name",
			content: `
backend:
  endpoint: "https://foundry.example.com/api"
database:
  path: "./test.db"
`,
			wantErr: "backend.agent_name",
		},
		{
			name: "missing database path",
			content: `
backend:
  endpoint: "https://foundry.example.com/api"
  agent_name: "helpdesk-agent"
`,
			wantErr: "database.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
backend:
  endpoint: "https://foundry.example.com/api"
  agent_name: "helpdesk-agent"
database:
  path: "./test.db"
dedupe:
  ttl: "not-a-duration"
`)

	if _, err := Load(configPath); err == nil {
		t.Fatal("Load() expected duration parse error, got nil")
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}
