// Package evaluator scores a candidate's recent public work. A configured
// language model is asked first; any failure falls back to the local
// heuristic so the discovery pipeline never stalls.
package evaluator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kasperwtrcolor/clawpay/internal/llm"
	"github.com/kasperwtrcolor/clawpay/pkg/contracts"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultTimeout bounds one remote scoring call.
const DefaultTimeout = 15 * time.Second

// maxPromptText caps the sample text sent to the model.
const maxPromptText = 6000

// Input is one candidate to score.
type Input struct {
	Username string
	Bio      string
	Texts    []string
	// RemoteKey enables the remote scorer for this call when non-empty.
	RemoteKey string
}

type Evaluator struct {
	completer contracts.Completer
	timeout   time.Duration
}

// New creates an evaluator. A nil completer means heuristic only.
func New(completer contracts.Completer, timeout time.Duration) *Evaluator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Evaluator{completer: completer, timeout: timeout}
}

// Evaluate never fails: remote errors are logged and the heuristic result
// is returned instead.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) models.Evaluation {
	if e.completer == nil || in.RemoteKey == "" {
		return Heuristic(in)
	}

	ctx, span := otel.Tracer("clawpay/evaluator").Start(ctx, "evaluator.remote")
	defer span.End()
	span.SetAttributes(attribute.String("candidate", in.Username))

	result, err := e.remote(ctx, in)
	if err != nil {
		span.RecordError(err)
		log.Warn().Err(err).Str("handle", in.Username).Msg("Remote evaluation failed, using heuristic")
		return Heuristic(in)
	}
	return result
}

func (e *Evaluator) remote(ctx context.Context, in Input) (models.Evaluation, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	text, err := e.completer.Complete(ctx, buildPrompt(in))
	if err != nil {
		return models.Evaluation{}, err
	}
	return parseResponse(text)
}

const rubric = `You evaluate autonomous agents and builders for small on-chain rewards.
Score the account 0-100 from its bio and recent posts.

Positive signals: open source contributions, shipped working software, educational
content, helping others, bug fixes, research, developer tooling, security work.
Negative signals: giveaway or airdrop spam, engagement bait, token shilling,
scams or phishing.

Verdict rules: score >= 70 REWARD (reward_amount 10 if score >= 85 else 5);
40-69 WATCH (reward_amount 2 if score >= 55 else 1); below 20 REJECT (0);
otherwise IGNORE (0).

Reply with only a JSON object:
{"score": int, "is_agent": bool, "verdict": "REWARD|WATCH|IGNORE|REJECT",
 "reason": string, "reward_amount": number, "contributions": [string]}`

func buildPrompt(in Input) string {
	texts := strings.Join(in.Texts, "\n---\n")
	texts = truncate(texts, maxPromptText)
	return fmt.Sprintf("%s\n\nUsername: @%s\nBio: %s\n\nRecent posts:\n%s", rubric, in.Username, in.Bio, texts)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

type remoteResult struct {
	Score         *int           `json:"score"`
	IsAgent       bool           `json:"is_agent"`
	Verdict       models.Verdict `json:"verdict"`
	Reason        string         `json:"reason"`
	RewardAmount  models.Amount  `json:"reward_amount"`
	Contributions []string       `json:"contributions"`
}

func parseResponse(text string) (models.Evaluation, error) {
	raw, ok := llm.ExtractJSON(text)
	if !ok {
		return models.Evaluation{}, errors.New("no JSON object in model response")
	}
	var r remoteResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return models.Evaluation{}, fmt.Errorf("decoding model response: %w", err)
	}
	switch {
	case r.Score == nil || *r.Score < 0 || *r.Score > 100:
		return models.Evaluation{}, errors.New("score missing or out of range")
	case !r.Verdict.Valid():
		return models.Evaluation{}, fmt.Errorf("unknown verdict %q", r.Verdict)
	case r.RewardAmount < 0:
		return models.Evaluation{}, errors.New("negative reward amount")
	}
	if r.Contributions == nil {
		r.Contributions = []string{}
	}
	return models.Evaluation{
		Score:         *r.Score,
		IsAgent:       r.IsAgent,
		Verdict:       r.Verdict,
		Reason:        r.Reason,
		RewardAmount:  r.RewardAmount,
		Contributions: r.Contributions,
		Method:        models.MethodAI,
	}, nil
}
