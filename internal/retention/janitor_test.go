package retention

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
)

type fakeExpirer struct {
	n     int
	err   error
	calls int
}

func (f *fakeExpirer) ExpireOverdue(context.Context) (int, error) {
	f.calls++
	return f.n, f.err
}

func TestRunCycle_PurgesAndExpires(t *testing.T) {
	s := store.NewMemoryStore("")
	defer s.Close()
	ctx := context.Background()
	now := time.Now().UTC()

	s.AppendAuditEvent(ctx, &models.AuditEvent{ID: "aud_old", Type: "auth_failure", Timestamp: now.AddDate(0, 0, -31)})
	s.AppendAuditEvent(ctx, &models.AuditEvent{ID: "aud_new", Type: "auth_failure", Timestamp: now.AddDate(0, 0, -1)})

	exp := &fakeExpirer{n: 2}
	j := NewJanitor(s, exp, time.Hour, 30)
	stats := j.RunCycle(ctx)

	if stats.AuditPurged != 1 {
		t.Errorf("AuditPurged = %d, want 1", stats.AuditPurged)
	}
	if stats.BountiesExpired != 2 || exp.calls != 1 {
		t.Errorf("BountiesExpired = %d (calls %d), want 2 (1)", stats.BountiesExpired, exp.calls)
	}
	left, _ := s.ListAuditEvents(ctx, models.AuditFilter{})
	if len(left) != 1 || left[0].ID != "aud_new" {
		t.Errorf("remaining audit events = %+v", left)
	}
}

func TestRunCycle_ExpiryErrorIsReported(t *testing.T) {
	s := store.NewMemoryStore("")
	defer s.Close()
	j := NewJanitor(s, &fakeExpirer{err: errors.New("store down")}, time.Hour, 0)
	stats := j.RunCycle(context.Background())
	if len(stats.Errors) != 1 {
		t.Errorf("Errors = %v, want one", stats.Errors)
	}
	if j.retentionDays != DefaultAuditRetentionDays {
		t.Errorf("retentionDays = %d, want default", j.retentionDays)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := store.NewMemoryStore("")
	defer s.Close()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewJanitor(s, nil, time.Minute, 30).Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop")
	}
}
