package config

import (
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "fleet", SSLMode: ""},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
		Auth:  AuthConfig{JWTSecret: "secret"},
	}
}

func TestValidate_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLModeAndProvider(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	c.Auth.JWTIssuer = "fleet-dispatch"
	c.Auth.JWTAudience = "fleet-ops"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE and provider credentials")
	}

	c.DB.SSLMode = "require"
	c.Voxio = VoxioConfig{BaseURL: "https://api.voxio.example", APIKey: "k", AgentName: "dispatcher"}
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestValidate_LocalDefaultsSSLModeAndAllowsMissingProvider(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
}

func TestValidate_RejectsBadProviderURL(t *testing.T) {
	c := validLocal()
	c.Voxio.BaseURL = "api.voxio.example"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for non-http provider URL")
	}
}

func TestValidate_RejectsNegativeDispatchDurations(t *testing.T) {
	c := validLocal()
	c.Dispatch.StuckDeadline = -time.Second
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for negative dispatch duration")
	}
}
