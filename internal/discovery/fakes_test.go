package discovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/kasperwtrcolor/clawpay/internal/evaluator"
	"github.com/kasperwtrcolor/clawpay/internal/rewards"
	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/kasperwtrcolor/clawpay/pkg/contracts"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const treasuryWallet = "0x1111111111111111111111111111111111111111"

// ── Social feed ──────────────────────────────────────────────

type fakeFeed struct {
	mu      sync.Mutex
	result  contracts.SearchResult
	recent  map[string][]contracts.Post
	replies map[string]string
	fetched []string
	replyErr error
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{recent: map[string][]contracts.Post{}, replies: map[string]string{}}
}

// addAuthor registers an author with one search hit and n recent posts.
func (f *fakeFeed) addAuthor(id, username, bio, postID string, texts ...string) {
	f.result.Authors = append(f.result.Authors, contracts.Author{ID: id, Username: username, Bio: bio})
	f.result.Posts = append(f.result.Posts, contracts.Post{ID: postID, AuthorID: id, Text: "hit"})
	for i, t := range texts {
		f.recent[id] = append(f.recent[id], contracts.Post{ID: postID + "-" + string(rune('a'+i)), AuthorID: id, Text: t})
	}
}

func (f *fakeFeed) Search(_ context.Context, _ string, limit int) (*contracts.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := f.result
	if len(res.Posts) > limit {
		res.Posts = res.Posts[:limit]
	}
	return &res, nil
}

func (f *fakeFeed) UserRecentPosts(_ context.Context, userID string, limit int) ([]contracts.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, userID)
	posts := f.recent[userID]
	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (f *fakeFeed) Reply(_ context.Context, postID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replyErr != nil {
		return f.replyErr
	}
	f.replies[postID] = text
	return nil
}

// ── Community feed ───────────────────────────────────────────

type fakeCommunity struct {
	mu        sync.Mutex
	posts     []contracts.CommunityPost
	challenge string
	comments  []string
	answers   []string
	verifyErr error
}

func (f *fakeCommunity) ListPosts(_ context.Context, _ string, _ int) ([]contracts.CommunityPost, error) {
	return f.posts, nil
}

func (f *fakeCommunity) CreateComment(_ context.Context, postID, text string) (*contracts.CommentReceipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, postID)
	rc := &contracts.CommentReceipt{ID: "c_" + postID}
	if f.challenge != "" {
		rc.Verification = &contracts.Verification{Code: "v_" + postID, Challenge: f.challenge}
	}
	return rc, nil
}

func (f *fakeCommunity) Verify(_ context.Context, _ string, answer string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, answer)
	return f.verifyErr
}

// ── Scorer ───────────────────────────────────────────────────

// scriptedScorer returns a fixed score per handle and counts calls.
type scriptedScorer struct {
	mu     sync.Mutex
	scores map[string]int
	calls  map[string]int
}

func newScorer(scores map[string]int) *scriptedScorer {
	return &scriptedScorer{scores: scores, calls: map[string]int{}}
}

func (s *scriptedScorer) Evaluate(_ context.Context, in evaluator.Input) models.Evaluation {
	s.mu.Lock()
	s.calls[in.Username]++
	score := s.scores[in.Username]
	s.mu.Unlock()
	verdict, amount := evaluator.VerdictFor(score)
	return models.Evaluation{
		Score:        score,
		Verdict:      verdict,
		RewardAmount: amount,
		Reason:       "Recognized for: shipping",
		Method:       models.MethodHeuristic,
	}
}

func (s *scriptedScorer) callsFor(h string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[h]
}

// ── Helpers ──────────────────────────────────────────────────

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestQueue(s store.RewardStore) *rewards.Queue {
	return rewards.NewQueue(s, rewards.Defaults{Sender: "clawpay", SenderWallet: treasuryWallet})
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

var errBoom = errors.New("boom")
