package storage

import (
	"testing"
	"time"
)

func TestPostgresConfigNormalize(t *testing.T) {
	cfg := PostgresConfig{}
	cfg.normalize()
	if cfg.OpTimeout != defaultPostgresOpTimeout {
		t.Fatalf("expected default op timeout, got %v", cfg.OpTimeout)
	}
	if cfg.Clock == nil {
		t.Fatal("expected default clock")
	}
	if loc := cfg.Clock().Location(); loc != time.UTC {
		t.Fatalf("expected UTC clock, got %v", loc)
	}
}

func TestPostgresConfigNormalizeKeepsOverrides(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cfg := PostgresConfig{
		OpTimeout: time.Second,
		Clock:     func() time.Time { return fixed },
	}
	cfg.normalize()
	if cfg.OpTimeout != time.Second {
		t.Fatalf("expected override kept, got %v", cfg.OpTimeout)
	}
	if !cfg.Clock().Equal(fixed) {
		t.Fatal("expected clock override kept")
	}
}

func TestNewPostgresRepositoryRequiresDSN(t *testing.T) {
	if _, err := NewPostgresRepository(PostgresConfig{}); err == nil {
		t.Fatal("expected error for missing DSN")
	}
}
