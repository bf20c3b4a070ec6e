package discovery

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestCycleRun_DedupSelfAndCap(t *testing.T) {
	s := newTestStore(t)
	feed := newFakeFeed()
	feed.addAuthor("1", "Alice", "builder", "p1", "shipped a parser")
	feed.addAuthor("1", "Alice", "builder", "p2") // second appearance, same id
	feed.addAuthor("9", "clawpay", "", "p3", "self post")
	feed.addAuthor("2", "bob", "", "p4", "wrote docs")
	feed.addAuthor("3", "carol", "", "p5", "fixed a bug")

	scorer := newScorer(map[string]int{"alice": 90, "bob": 75, "carol": 80})
	c := NewCycle(s, scorer, feed, Policy{SelfHandle: "@ClawPay", ClaimURL: "https://clawpay.example/claim/"})

	got, err := c.Run(context.Background(), "q", 2, 24*time.Hour)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Run() rewards = %d, want 2 (cap)", len(got))
	}
	if got[0].Recipient != "alice" || got[1].Recipient != "bob" {
		t.Errorf("recipients = %s, %s; want alice, bob in feed order", got[0].Recipient, got[1].Recipient)
	}
	if scorer.callsFor("alice") != 1 {
		t.Errorf("alice scored %d times, want 1", scorer.callsFor("alice"))
	}
	if scorer.callsFor("clawpay") != 0 || scorer.callsFor("carol") != 0 {
		t.Error("self or over-cap candidate was scored")
	}
	if got[0].SourceSkillID != FeedSkillID || got[0].SourcePostID != "p1" || got[0].Score != 90 {
		t.Errorf("reward = %+v", got[0])
	}
	if !strings.Contains(got[0].Notification, "https://clawpay.example/claim?handle=alice") {
		t.Errorf("Notification = %q, want claim link", got[0].Notification)
	}

	a, err := s.GetAgent(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if a.ExternalID != "1" || a.Bio != "builder" || a.Score != 90 || a.LastEvaluatedAt == nil {
		t.Errorf("agent = %+v", a)
	}
}

func TestCycleRun_CooldownPerHandle(t *testing.T) {
	s := newTestStore(t)
	feed := newFakeFeed()
	feed.addAuthor("1", "alice", "", "p1", "shipped")
	feed.addAuthor("2", "bob", "", "p2", "shipped")

	scorer := newScorer(map[string]int{"alice": 90, "bob": 90})
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCycle(s, scorer, feed, Policy{})
	c.now = clock.Now

	first, err := c.Run(context.Background(), "q", 1, 24*time.Hour)
	if err != nil || len(first) != 1 || first[0].Recipient != "alice" {
		t.Fatalf("first Run() = %+v, %v; want alice only", first, err)
	}

	clock.Advance(time.Hour)
	second, _ := c.Run(context.Background(), "q", 5, 24*time.Hour)
	if len(second) != 1 || second[0].Recipient != "bob" {
		t.Fatalf("second Run() = %+v; want bob only, alice in cooldown", second)
	}
	if scorer.callsFor("alice") != 1 {
		t.Errorf("alice scored %d times within cooldown", scorer.callsFor("alice"))
	}

	clock.Advance(24 * time.Hour)
	third, _ := c.Run(context.Background(), "q", 5, 24*time.Hour)
	if len(third) != 2 {
		t.Errorf("Run() after cooldown rewards = %d, want 2", len(third))
	}
}

func TestCycleRun_EmptySampleSkipped(t *testing.T) {
	s := newTestStore(t)
	feed := newFakeFeed()
	feed.addAuthor("1", "quiet", "", "p1") // no recent posts

	scorer := newScorer(map[string]int{"quiet": 99})
	c := NewCycle(s, scorer, feed, Policy{})
	got, err := c.Run(context.Background(), "q", 5, time.Hour)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 0 || scorer.callsFor("quiet") != 0 {
		t.Errorf("empty-sample candidate was scored or rewarded")
	}
	if _, err := s.GetAgent(context.Background(), "quiet"); err == nil {
		t.Error("empty-sample candidate should not consume its cooldown")
	}
}

func TestCycleRun_UnpayableHandleNotStamped(t *testing.T) {
	s := newTestStore(t)
	feed := newFakeFeed()
	feed.addAuthor("1", "my-bot", "", "p1", "shipped a parser")
	feed.addAuthor("2", "dot.agent", "", "p2", "wrote docs")
	feed.addAuthor("3", "ok_bot", "", "p3", "fixed a bug")

	scorer := newScorer(map[string]int{"my-bot": 90, "dot.agent": 90, "ok_bot": 90})
	c := NewCycle(s, scorer, feed, Policy{})
	got, err := c.Run(context.Background(), "q", 5, time.Hour)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(got) != 1 || got[0].Recipient != "ok_bot" {
		t.Fatalf("Run() rewards = %+v, want ok_bot only", got)
	}
	for _, h := range []string{"my-bot", "dot.agent"} {
		if scorer.callsFor(h) != 0 {
			t.Errorf("%s was scored", h)
		}
		if _, err := s.GetAgent(context.Background(), h); err == nil {
			t.Errorf("%s consumed a cooldown", h)
		}
	}
}

func TestCycleRun_BelowMinScoreRecordsAgent(t *testing.T) {
	s := newTestStore(t)
	feed := newFakeFeed()
	feed.addAuthor("1", "meh", "", "p1", "gm")

	c := NewCycle(s, newScorer(map[string]int{"meh": 45}), feed, Policy{MinScore: 70})
	got, _ := c.Run(context.Background(), "q", 5, time.Hour)
	if len(got) != 0 {
		t.Fatalf("Run() rewards = %d, want 0 below min score", len(got))
	}
	a, err := s.GetAgent(context.Background(), "meh")
	if err != nil || a.Score != 45 || a.TimesEvaluated != 1 {
		t.Errorf("agent = %+v, %v; want evaluated record", a, err)
	}
}

func TestCycleRun_OverlappingRunsScoreOnce(t *testing.T) {
	s := newTestStore(t)
	feed := newFakeFeed()
	feed.addAuthor("1", "alice", "", "p1", "shipped")
	scorer := newScorer(map[string]int{"alice": 90})
	c := NewCycle(s, scorer, feed, Policy{})

	done := make(chan int, 4)
	for i := 0; i < 4; i++ {
		go func() {
			got, _ := c.Run(context.Background(), "q", 5, time.Hour)
			done <- len(got)
		}()
	}
	total := 0
	for i := 0; i < 4; i++ {
		total += <-done
	}
	if total != 1 || scorer.callsFor("alice") != 1 {
		t.Errorf("rewards = %d, scores = %d; want 1 and 1", total, scorer.callsFor("alice"))
	}
}
