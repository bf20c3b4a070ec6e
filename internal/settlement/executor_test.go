package settlement_test

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasperwtrcolor/clawpay/internal/chain"
	"github.com/kasperwtrcolor/clawpay/internal/notify"
	"github.com/kasperwtrcolor/clawpay/internal/reputation"
	"github.com/kasperwtrcolor/clawpay/internal/rewards"
	"github.com/kasperwtrcolor/clawpay/internal/settlement"
	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
)

const (
	treasury = "0x1111111111111111111111111111111111111111"
	claimant = "0x2222222222222222222222222222222222222222"
	token    = "0x3333333333333333333333333333333333333333"
)

type fixture struct {
	store    *store.MemoryStore
	ledger   *chain.SimLedger
	queue    *rewards.Queue
	exec     *settlement.Executor
	events   *recordingNotifier
	treasury common.Address
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(_ context.Context, e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *recordingNotifier) types() []notify.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notify.EventType
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

// newFixture funds the treasury with funded tokens and an allowance of
// allowed tokens, both in whole units.
func newFixture(t *testing.T, funded, allowed int64) *fixture {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })

	tokenAddr := common.HexToAddress(token)
	ledger := chain.NewSimLedger(tokenAddr)
	from := common.HexToAddress(treasury)
	ledger.Fund(from, models.Whole(funded).BaseUnits(models.AmountDecimals))
	ledger.Approve(from, models.Whole(allowed).BaseUnits(models.AmountDecimals))

	events := &recordingNotifier{}
	exec := settlement.NewExecutor(s, ledger,
		settlement.Config{Token: tokenAddr, TokenDecimals: models.AmountDecimals},
		settlement.WithReputation(reputation.NewAggregator(s)),
		settlement.WithNotifier(events),
	)
	return &fixture{
		store:    s,
		ledger:   ledger,
		queue:    rewards.NewQueue(s, rewards.Defaults{Sender: "clawpay", SenderWallet: treasury}),
		exec:     exec,
		events:   events,
		treasury: from,
	}
}

func (f *fixture) post(t *testing.T, handle string, amount int64, score int) *models.Reward {
	t.Helper()
	r, err := f.queue.Post(context.Background(), rewards.PostRequest{
		Recipient: handle,
		Amount:    models.Whole(amount),
		Score:     score,
	})
	require.NoError(t, err)
	return r
}

func requireCode(t *testing.T, err error, want settlement.Code) *settlement.Error {
	t.Helper()
	require.Error(t, err)
	se, ok := settlement.AsError(err)
	require.True(t, ok, "error %v is not a settlement error", err)
	require.Equal(t, want, se.Code)
	return se
}

func TestClaim_EndToEnd(t *testing.T) {
	f := newFixture(t, 100, 100)
	ctx := context.Background()
	r := f.post(t, "alice", 5, 72)

	rcpt, err := f.exec.Claim(ctx, r.ID, claimant, "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, rcpt.TxSignature)
	assert.False(t, rcpt.Recovered)
	assert.Equal(t, models.Whole(5), rcpt.Amount)

	stored, err := f.store.GetReward(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RewardCompleted, stored.Status)
	assert.Equal(t, rcpt.TxSignature, stored.SettlementTx)
	assert.Equal(t, common.HexToAddress(claimant).Hex(), stored.ClaimedBy)
	assert.NotNil(t, stored.SettledAt)
	assert.Empty(t, stored.LeaseToken)

	assert.Equal(t, models.Whole(5).BaseUnits(models.AmountDecimals), f.ledger.BalanceOf(common.HexToAddress(claimant)))

	_, err = f.exec.Claim(ctx, r.ID, claimant, "alice")
	requireCode(t, err, settlement.CodeAlreadyClaimed)
	assert.Equal(t, 1, f.ledger.Submitted())

	rep, err := f.store.GetReputation(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 72, rep.CumulativeScore)
	assert.Equal(t, models.TierContributor, rep.TrustTier)
	assert.Equal(t, []notify.EventType{notify.EventRewardSettled}, f.events.types())
}

func TestClaim_InsufficientAllowance(t *testing.T) {
	f := newFixture(t, 100, 2)
	ctx := context.Background()
	r := f.post(t, "alice", 5, 72)

	_, err := f.exec.Claim(ctx, r.ID, claimant, "alice")
	se := requireCode(t, err, settlement.CodeInsufficientFunds)
	assert.True(t, se.Retryable)

	stored, _ := f.store.GetReward(ctx, r.ID)
	assert.Equal(t, models.RewardPending, stored.Status)
	assert.Empty(t, stored.LeaseToken, "lease must be released")
	assert.Zero(t, f.ledger.Submitted())

	// Once funded the same reward settles.
	f.ledger.Approve(f.treasury, models.Whole(10).BaseUnits(models.AmountDecimals))
	_, err = f.exec.Claim(ctx, r.ID, claimant, "alice")
	require.NoError(t, err)
}

func TestClaim_InsufficientBalance(t *testing.T) {
	f := newFixture(t, 1, 100)
	r := f.post(t, "alice", 5, 0)
	_, err := f.exec.Claim(context.Background(), r.ID, claimant, "alice")
	requireCode(t, err, settlement.CodeInsufficientFunds)
}

func TestClaim_Preconditions(t *testing.T) {
	f := newFixture(t, 100, 100)
	ctx := context.Background()
	r := f.post(t, "alice", 5, 72)

	_, err := f.exec.Claim(ctx, "rwd_doesnotexist", claimant, "alice")
	requireCode(t, err, settlement.CodeNotFound)

	_, err = f.exec.Claim(ctx, r.ID, claimant, "bob")
	se := requireCode(t, err, settlement.CodeHandleMismatch)
	assert.False(t, se.Retryable)

	_, err = f.exec.Claim(ctx, "../etc/passwd", claimant, "alice")
	requireCode(t, err, settlement.CodeInvalidRequest)

	_, err = f.exec.Claim(ctx, r.ID, "not-a-wallet", "alice")
	requireCode(t, err, settlement.CodeInvalidRequest)

	// Handles compare case-insensitively.
	_, err = f.exec.Claim(ctx, r.ID, claimant, "@ALICE")
	require.NoError(t, err)
}

func TestClaim_ConcurrentSingleSuccess(t *testing.T) {
	f := newFixture(t, 100, 100)
	f.ledger.SetDelay(50 * time.Millisecond)
	r := f.post(t, "alice", 5, 72)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.exec.Claim(context.Background(), r.ID, claimant, "alice")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		requireCode(t, err, settlement.CodeAlreadyClaimed)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, f.ledger.Submitted())
}

func TestClaim_TimeoutLeavesPending(t *testing.T) {
	f := newFixture(t, 100, 100)
	ctx := context.Background()
	r := f.post(t, "alice", 5, 72)

	f.ledger.InjectFault(chain.FaultTimeout)
	_, err := f.exec.Claim(ctx, r.ID, claimant, "alice")
	se := requireCode(t, err, settlement.CodeChainTimeout)
	assert.True(t, se.Retryable)

	stored, _ := f.store.GetReward(ctx, r.ID)
	assert.Equal(t, models.RewardPending, stored.Status)
	assert.Empty(t, stored.SettlementTx)

	_, err = f.exec.Claim(ctx, r.ID, claimant, "alice")
	require.NoError(t, err)
}

func TestClaim_CallerAbortLeavesPending(t *testing.T) {
	f := newFixture(t, 100, 100)
	f.ledger.SetDelay(time.Second)
	r := f.post(t, "alice", 5, 72)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.exec.Claim(ctx, r.ID, claimant, "alice")
	requireCode(t, err, settlement.CodeChainTimeout)

	stored, _ := f.store.GetReward(context.Background(), r.ID)
	assert.Equal(t, models.RewardPending, stored.Status)
	assert.Empty(t, stored.LeaseToken, "lease must be released on a detached context")
}

func TestClaim_LostConfirmationRecovers(t *testing.T) {
	f := newFixture(t, 100, 100)
	ctx := context.Background()
	r := f.post(t, "alice", 5, 72)

	f.ledger.InjectFault(chain.FaultLostConfirmation)
	_, err := f.exec.Claim(ctx, r.ID, claimant, "alice")
	requireCode(t, err, settlement.CodeChainTimeout)
	assert.Equal(t, 1, f.ledger.Submitted())

	rcpt, err := f.exec.Claim(ctx, r.ID, claimant, "alice")
	require.NoError(t, err)
	assert.True(t, rcpt.Recovered)
	assert.Equal(t, 1, f.ledger.Submitted(), "retry must not resubmit")

	stored, _ := f.store.GetReward(ctx, r.ID)
	assert.Equal(t, models.RewardCompleted, stored.Status)
}

func TestClaim_RejectedMarksFailed(t *testing.T) {
	f := newFixture(t, 100, 100)
	ctx := context.Background()
	r := f.post(t, "alice", 5, 72)

	f.ledger.InjectFault(chain.FaultReject)
	_, err := f.exec.Claim(ctx, r.ID, claimant, "alice")
	se := requireCode(t, err, settlement.CodeTransferRejected)
	assert.False(t, se.Retryable)

	stored, _ := f.store.GetReward(ctx, r.ID)
	assert.Equal(t, models.RewardFailed, stored.Status)
	assert.NotEmpty(t, stored.FailureReason)
	assert.Equal(t, []notify.EventType{notify.EventRewardFailed}, f.events.types())

	_, err = f.exec.Claim(ctx, r.ID, claimant, "alice")
	requireCode(t, err, settlement.CodeAlreadyClaimed)
}

func TestClaim_ExpiredLeaseIsTakenOver(t *testing.T) {
	f := newFixture(t, 100, 100)
	ctx := context.Background()
	r := f.post(t, "alice", 5, 72)

	// A crashed attempt left a lease behind.
	past := time.Now().Add(-time.Minute)
	_, err := f.store.UpdateReward(ctx, r.ID, nil, func(cur *models.Reward) {
		cur.LeaseToken = "stale"
		cur.LeaseExpiresAt = &past
	})
	require.NoError(t, err)

	_, err = f.exec.Claim(ctx, r.ID, claimant, "alice")
	require.NoError(t, err)
}

func TestClaim_LiveLeaseBlocks(t *testing.T) {
	f := newFixture(t, 100, 100)
	ctx := context.Background()
	r := f.post(t, "alice", 5, 72)

	future := time.Now().Add(time.Minute)
	_, err := f.store.UpdateReward(ctx, r.ID, nil, func(cur *models.Reward) {
		cur.LeaseToken = "other"
		cur.LeaseExpiresAt = &future
	})
	require.NoError(t, err)

	_, err = f.exec.Claim(ctx, r.ID, claimant, "alice")
	requireCode(t, err, settlement.CodeAlreadyClaimed)
	assert.Zero(t, f.ledger.Submitted())
}

func TestBaseUnits_HigherDecimals(t *testing.T) {
	// An 18-decimal token scales micro-units up.
	got := models.Whole(5).BaseUnits(18)
	want := new(big.Int).Mul(big.NewInt(5), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	assert.Equal(t, 0, got.Cmp(want))
}
