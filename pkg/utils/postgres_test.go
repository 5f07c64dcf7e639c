package utils

import (
	"testing"
	"time"
)

func TestPostgresPoolConfig_Defaults(t *testing.T) {
	cfg := PostgresPoolConfig{}.withDefaults()
	if cfg.MaxOpenConns <= 0 || cfg.MaxIdleConns <= 0 {
		t.Fatalf("pool sizes not defaulted: %+v", cfg)
	}
	if cfg.PingTimeout <= 0 {
		t.Fatalf("ping timeout not defaulted")
	}

	// Explicit values survive.
	cfg = PostgresPoolConfig{MaxOpenConns: 5, ConnMaxLifetime: time.Minute}.withDefaults()
	if cfg.MaxOpenConns != 5 || cfg.ConnMaxLifetime != time.Minute {
		t.Fatalf("explicit values overwritten: %+v", cfg)
	}
}
