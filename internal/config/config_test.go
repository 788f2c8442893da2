package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.BackoffPolicy != "exponential" {
		t.Fatalf("BackoffPolicy = %q, want exponential", cfg.BackoffPolicy)
	}
	if cfg.BackoffBase != time.Second || cfg.BackoffMaxDelay != 60*time.Second {
		t.Fatalf("backoff defaults = %s/%s, want 1s/60s", cfg.BackoffBase, cfg.BackoffMaxDelay)
	}
	if cfg.ClaimDuration <= cfg.TaskTimeout {
		t.Fatal("claim duration must exceed task timeout")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BACKOFF_POLICY", "linear")
	t.Setenv("BACKOFF_BASE", "2s")
	t.Setenv("AUTHENTICATE", "false")
	t.Setenv("WORKER_CONCURRENCY", "8")

	cfg := Load()
	if cfg.BackoffPolicy != "linear" || cfg.BackoffBase != 2*time.Second {
		t.Fatalf("overrides not applied: %q/%s", cfg.BackoffPolicy, cfg.BackoffBase)
	}
	if cfg.Authenticate {
		t.Fatal("AUTHENTICATE=false not applied")
	}
	if cfg.WorkerCount != 8 {
		t.Fatalf("WorkerCount = %d, want 8", cfg.WorkerCount)
	}
}

func TestLoad_BumpsShortClaimDuration(t *testing.T) {
	t.Setenv("TASK_TIMEOUT", "30s")
	t.Setenv("CLAIM_DURATION", "10s")

	cfg := Load()
	if cfg.ClaimDuration <= cfg.TaskTimeout {
		t.Fatalf("ClaimDuration = %s, want > %s", cfg.ClaimDuration, cfg.TaskTimeout)
	}
}
