package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kasperwtrcolor/clawpay/internal/config"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.DataDir = ""
	cfg.Telemetry.Enabled = false
	return cfg
}

func TestNew_DefaultsToMemoryAndSim(t *testing.T) {
	srv, err := New(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer srv.Close(context.Background())

	if srv.Scheduler != nil {
		t.Error("Scheduler should be nil without a configured source")
	}
	if srv.Sweeper == nil {
		t.Error("Sweeper should be set for the in-memory limiter")
	}

	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200", rr.Code)
	}
}

func TestNew_SchedulerWithCommunitySource(t *testing.T) {
	cfg := testConfig()
	cfg.Community.Enabled = true
	cfg.Community.APIKey = "community-key"
	cfg.Community.BaseURL = "http://127.0.0.1:1"

	srv, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer srv.Close(context.Background())

	if srv.Scheduler == nil {
		t.Fatal("Scheduler = nil, want community skill")
	}
	if got := srv.Scheduler.Skills(); len(got) != 1 || got[0] != "community" {
		t.Errorf("Skills() = %v, want [community]", got)
	}
}

func TestNew_RejectsBadTreasury(t *testing.T) {
	cfg := testConfig()
	cfg.Discovery.TreasuryWallet = "not-an-address"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("New() error = nil, want invalid treasury")
	}
}
