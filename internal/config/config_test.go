package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SKIFF_DATA_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AgentBinary != "skiff-agent" {
		t.Fatalf("AgentBinary = %q", cfg.AgentBinary)
	}
	if cfg.GatewayPort != 8421 || cfg.RedirectPort != 8618 {
		t.Fatalf("ports = %d/%d", cfg.GatewayPort, cfg.RedirectPort)
	}
	if !cfg.AgentAutoStart {
		t.Fatal("AgentAutoStart should default on")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.OAuthConfigured() {
		t.Fatal("OAuthConfigured without credentials")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SKIFF_DATA_DIR", t.TempDir())
	t.Setenv("SKIFF_AGENT_BINARY", "/opt/bin/helper")
	t.Setenv("SKIFF_GATEWAY_PORT", "9000")
	t.Setenv("SKIFF_AGENT_AUTOSTART", "false")
	t.Setenv("SKIFF_CLIENT_ID", "client-1")
	t.Setenv("SKIFF_CLIENT_SECRET", "hunter2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AgentBinary != "/opt/bin/helper" || cfg.GatewayPort != 9000 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.AgentAutoStart {
		t.Fatal("AgentAutoStart override ignored")
	}
	if !cfg.OAuthConfigured() {
		t.Fatal("OAuthConfigured with both credentials set")
	}
	if cfg.RedirectURI() != "http://localhost:8618/callback" {
		t.Fatalf("RedirectURI = %q", cfg.RedirectURI())
	}
}

func TestLoadRejectsBadPort(t *testing.T) {
	t.Setenv("SKIFF_DATA_DIR", t.TempDir())
	t.Setenv("SKIFF_GATEWAY_PORT", "not-a-port")

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a non-numeric port")
	}
}
