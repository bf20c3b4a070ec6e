package discovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kasperwtrcolor/clawpay/pkg/models"
)

// blockingSkill blocks in Run until release is closed.
type blockingSkill struct {
	started chan struct{}
	release chan struct{}
	out     []models.Reward
	err     error
}

func (b *blockingSkill) ID() string { return "blocking" }

func (b *blockingSkill) Run(ctx context.Context) ([]models.Reward, error) {
	if b.started != nil {
		close(b.started)
	}
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return b.out, b.err
}

func (b *blockingSkill) Announce(context.Context, models.Reward) error { return nil }

func TestScheduler_NoOverlap(t *testing.T) {
	s := newTestStore(t)
	skill := &blockingSkill{started: make(chan struct{}), release: make(chan struct{})}
	sched := NewScheduler(newTestQueue(s), SchedulerConfig{}, skill)

	done := make(chan error, 1)
	go func() {
		_, err := sched.RunOnce(context.Background())
		done <- err
	}()
	<-skill.started

	if _, err := sched.RunOnce(context.Background()); !errors.Is(err, ErrCycleInProgress) {
		t.Fatalf("overlapping RunOnce() error = %v, want ErrCycleInProgress", err)
	}
	if !sched.Running() {
		t.Error("Running() = false during a cycle")
	}
	close(skill.release)
	if err := <-done; err != nil {
		t.Fatalf("first RunOnce() error = %v", err)
	}
	if sched.Running() {
		t.Error("Running() = true after the cycle")
	}
}

func TestScheduler_PersistsAndIsolatesFailures(t *testing.T) {
	s := newTestStore(t)
	failing := &blockingSkill{err: errBoom, out: []models.Reward{{Recipient: "alice", Amount: models.Whole(5)}}}

	feed := newFakeFeed()
	feed.addAuthor("2", "bob", "", "p2", "shipped")
	feed.replyErr = errBoom
	ok := NewFeedSkill(NewCycle(s, newScorer(map[string]int{"bob": 90}), feed, Policy{}), feed, FeedConfig{})

	bad := &blockingSkill{out: []models.Reward{{Recipient: "not a handle!", Amount: models.Whole(1)}}}

	sched := NewScheduler(newTestQueue(s), SchedulerConfig{}, failing, ok, bad)
	report, err := sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if len(report.Skills) != 3 {
		t.Fatalf("skill reports = %d, want 3", len(report.Skills))
	}
	if report.Skills[0].Error == "" || len(report.Skills[0].Rewards) != 1 {
		t.Errorf("failing skill report = %+v; want error and its partial reward kept", report.Skills[0])
	}
	if len(report.Skills[1].Rewards) != 1 || report.Skills[1].AnnounceFailed != 1 {
		t.Errorf("feed skill report = %+v", report.Skills[1])
	}
	if report.Skills[2].Rejected != 1 {
		t.Errorf("bad skill Rejected = %d, want 1", report.Skills[2].Rejected)
	}

	stored, _ := s.ListRewards(context.Background(), models.RewardFilter{})
	if len(stored) != 2 {
		t.Errorf("stored rewards = %d, want 2", len(stored))
	}
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	sched := NewScheduler(newTestQueue(s), SchedulerConfig{Interval: 5 * time.Millisecond, RunAtStart: true}, &blockingSkill{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
