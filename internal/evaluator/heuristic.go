package evaluator

import (
	"regexp"
	"strings"

	"github.com/kasperwtrcolor/clawpay/pkg/models"
)

const baseScore = 30

type rule struct {
	pattern *regexp.Regexp
	points  int
	label   string
}

// rules are applied in order. Negative rules contribute "WARNING: <label>".
var rules = []rule{
	{regexp.MustCompile(`github\.com|open[- ]?source|pull request|\bmerged\b`), 15, "open source contributions"},
	{regexp.MustCompile(`\b(shipped|launched|released|deployed)\b|\bv\d+\.\d+`), 12, "shipped working software"},
	{regexp.MustCompile(`\b(tutorial|guide|how to|explainer|walkthrough|lesson)s?\b`), 10, "educational content"},
	{regexp.MustCompile(`\b(helped|helping|answered|mentor(ed|ing)?|onboard(ed|ing)?)\b`), 8, "community help"},
	{regexp.MustCompile(`\b(fixed|bugfix|bug fix|patched|debugged)\b`), 8, "bug fixes"},
	{regexp.MustCompile(`\b(research|paper|benchmark|analysis|dataset)s?\b`), 10, "research"},
	{regexp.MustCompile(`\b(cli|sdk|library|plugin|framework|toolkit|dev ?tool)s?\b`), 10, "developer tooling"},
	{regexp.MustCompile(`\b(security|vulnerabilit(y|ies)|cve-\d+|exploit|pentest)\b`), 12, "security work"},

	{regexp.MustCompile(`\b(giveaway|airdrop|free tokens?|claim now)\b`), -25, "giveaway spam"},
	{regexp.MustCompile(`like and (retweet|rt)|follow (me|back)|rt to win|drop your wallet`), -15, "engagement bait"},
	{regexp.MustCompile(`\b(100x|1000x|to the moon|presale|buy now|pump)\b`), -20, "token shilling"},
	{regexp.MustCompile(`\b(scam|rug ?pull|phishing|drainer)\b`), -30, "scam mention"},
}

var agentSignal = regexp.MustCompile(`(?i)(bot|agent|(^|[^a-z])ai([^a-z]|$)|auto|daemon|assistant|gpt|claude|llm|llama|gemini|mistral)`)

// Heuristic scores in-process without a model. It is pure: identical input
// always yields an identical evaluation.
func Heuristic(in Input) models.Evaluation {
	corpus := strings.ToLower(in.Bio + "\n" + strings.Join(in.Texts, "\n"))

	score := baseScore
	var positives []string
	contributions := []string{}
	for _, r := range rules {
		if !r.pattern.MatchString(corpus) {
			continue
		}
		score += r.points
		if r.points > 0 {
			positives = append(positives, r.label)
			contributions = append(contributions, r.label)
		} else {
			contributions = append(contributions, "WARNING: "+r.label)
		}
	}
	score = min(max(score, 0), 100)

	verdict, amount := VerdictFor(score)
	return models.Evaluation{
		Score:         score,
		IsAgent:       agentSignal.MatchString(in.Bio) || agentSignal.MatchString(in.Username),
		Verdict:       verdict,
		Reason:        reasonFrom(positives),
		RewardAmount:  amount,
		Contributions: contributions,
		Method:        models.MethodHeuristic,
	}
}

// VerdictFor maps a score to its verdict and reward tier.
func VerdictFor(score int) (models.Verdict, models.Amount) {
	switch {
	case score >= 85:
		return models.VerdictReward, models.Whole(10)
	case score >= 70:
		return models.VerdictReward, models.Whole(5)
	case score >= 55:
		return models.VerdictWatch, models.Whole(2)
	case score >= 40:
		return models.VerdictWatch, models.Whole(1)
	case score < 20:
		return models.VerdictReject, 0
	default:
		return models.VerdictIgnore, 0
	}
}

func reasonFrom(labels []string) string {
	if len(labels) == 0 {
		return "No notable contributions detected"
	}
	if len(labels) > 3 {
		labels = labels[:3]
	}
	return "Recognized for: " + strings.Join(labels, ", ")
}
