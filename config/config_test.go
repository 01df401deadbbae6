package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"repositories":["acme/widgets"]}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("default listen addr = %q", cfg.ListenAddr)
	}
	if cfg.StaleAfterSeconds != 300 {
		t.Errorf("default staleness = %d", cfg.StaleAfterSeconds)
	}
	if cfg.DatabasePath != filepath.Join(dir, "hubwatch.db") {
		t.Errorf("database path should be resolved next to the config file, got %q", cfg.DatabasePath)
	}
	if len(cfg.Repositories) != 1 || cfg.Repositories[0] != "acme/widgets" {
		t.Errorf("repositories = %v", cfg.Repositories)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{"github_token":"file-token","webhook_secret":"file-secret"}`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvGithubToken, "env-token")
	t.Setenv(EnvWebhookSecret, "env-secret")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.GitHubToken != "env-token" {
		t.Errorf("env token should win, got %q", cfg.GitHubToken)
	}
	if cfg.WebhookSecret != "env-secret" {
		t.Errorf("env secret should win, got %q", cfg.WebhookSecret)
	}
}

func TestCreateDefaultConfigDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	if err := CreateDefaultConfig(path); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.ListenAddr = ":9090"
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatal(err)
	}

	// A second create must leave the edited file alone.
	if err := CreateDefaultConfig(path); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("existing config was overwritten, listen addr = %q", cfg.ListenAddr)
	}
}
