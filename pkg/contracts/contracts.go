// Package contracts defines the collaborator interfaces of the ClawPay
// control plane: the LLM, the social and community feeds, and the chain.
//
// Each interface is implemented by a concrete client under internal/ and by
// in-memory fakes in tests. The composition root in pkg/server chooses the
// implementation, so swapping a provider is a single line change.
package contracts

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ── LLM ─────────────────────────────────────────────────────

// Completer sends a single prompt to a language model and returns its text.
// Implementation: internal/llm.AnthropicClient
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ── Social Feed ─────────────────────────────────────────────

// Post is one public post on the social platform.
type Post struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Author is the public profile attached to a search result.
type Author struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Bio      string `json:"bio"`
}

// SearchResult holds posts in feed order plus the referenced authors.
type SearchResult struct {
	Posts   []Post   `json:"posts"`
	Authors []Author `json:"authors"`
}

// SocialFeed is the social platform used by the primary discovery skill.
// Implementation: internal/social.Client
type SocialFeed interface {
	Search(ctx context.Context, query string, limit int) (*SearchResult, error)
	UserRecentPosts(ctx context.Context, userID string, limit int) ([]Post, error)
	Reply(ctx context.Context, postID, text string) error
}

// ── Community Feed ──────────────────────────────────────────

// CommunityPost is a submission on the community platform.
type CommunityPost struct {
	ID        string    `json:"id"`
	Author    string    `json:"author"`
	AuthorBio string    `json:"author_bio,omitempty"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Verification is an arithmetic challenge the community platform attaches
// to new comments. The comment stays hidden until the answer is verified.
type Verification struct {
	Code      string    `json:"code"`
	Challenge string    `json:"challenge"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// CommentReceipt is returned when a comment is created.
type CommentReceipt struct {
	ID           string        `json:"id"`
	Verification *Verification `json:"verification,omitempty"`
}

// CommunityFeed is used by the community discovery skill.
// Implementation: internal/community.Client
type CommunityFeed interface {
	ListPosts(ctx context.Context, feed string, limit int) ([]CommunityPost, error)
	CreateComment(ctx context.Context, postID, text string) (*CommentReceipt, error)
	Verify(ctx context.Context, code, answer string) error
}

// ── Chain ───────────────────────────────────────────────────

// TransferRequest moves Amount base units from From to To. With
// UseDelegation the settlement authority spends From's allowance.
// Reference is an idempotency key recorded with the transfer.
type TransferRequest struct {
	From          common.Address
	To            common.Address
	Amount        *big.Int
	Reference     string
	UseDelegation bool
}

// TransferReceipt describes a transfer the chain has seen.
type TransferReceipt struct {
	Signature   string    `json:"signature"`
	Reference   string    `json:"reference"`
	Confirmed   bool      `json:"confirmed"`
	ConfirmedAt time.Time `json:"confirmed_at,omitempty"`
}

// Chain is the token ledger. Allowance is what owner has approved for the
// settlement authority; nothing here is cached by callers.
// Implementations: internal/chain.SimLedger, internal/chain.RelayerClient
type Chain interface {
	Allowance(ctx context.Context, owner common.Address) (*big.Int, error)
	Balance(ctx context.Context, owner common.Address, token common.Address) (*big.Int, error)
	Transfer(ctx context.Context, req TransferRequest) (*TransferReceipt, error)
	// LookupTransfer returns (nil, nil) when no transfer carries reference.
	LookupTransfer(ctx context.Context, reference string) (*TransferReceipt, error)
}
