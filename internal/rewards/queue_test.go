package rewards

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kasperwtrcolor/clawpay/internal/store"
	"github.com/kasperwtrcolor/clawpay/pkg/models"
)

const treasury = "0x1111111111111111111111111111111111111111"

func newTestQueue(t *testing.T) (*Queue, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })
	return NewQueue(s, Defaults{Sender: "clawpay", SenderWallet: treasury}), s
}

func TestEnqueue_AssignsIDsAndDefaults(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()

	out, err := q.Enqueue(ctx, []models.Reward{
		{Recipient: "@Alice", Amount: models.Whole(5), Score: 72},
		{Recipient: "bob", Amount: models.Whole(1), Status: models.RewardEvaluating},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Regexp(t, `^rwd_[a-f0-9]{32}$`, out[0].ID)
	assert.Equal(t, "alice", out[0].Recipient)
	assert.Equal(t, models.RewardPending, out[0].Status)
	assert.Equal(t, "clawpay", out[0].Sender)
	assert.NotEmpty(t, out[0].SenderWallet)
	assert.Equal(t, models.RewardEvaluating, out[1].Status)

	stored, err := s.GetReward(ctx, out[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 72, stored.Score)
}

func TestEnqueue_ValidatesWholeBatch(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []models.Reward{
		{Recipient: "alice", Amount: models.Whole(5)},
		{Recipient: "bob", Amount: 0},
	})
	var ve *models.ValidationError
	require.True(t, errors.As(err, &ve), "error = %v", err)

	all, _ := s.ListRewards(ctx, models.RewardFilter{})
	assert.Empty(t, all, "nothing should be persisted when any reward is invalid")
}

func TestEnqueue_KeepsReservedID(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	id := models.NewID(models.RewardIDPrefix)

	out, err := q.Enqueue(ctx, []models.Reward{{ID: id, Recipient: "alice", Amount: models.Whole(1)}})
	require.NoError(t, err)
	assert.Equal(t, id, out[0].ID)

	_, err = q.Enqueue(ctx, []models.Reward{{ID: id, Recipient: "alice", Amount: models.Whole(1)}})
	assert.ErrorIs(t, err, store.ErrExists)

	_, err = q.Enqueue(ctx, []models.Reward{{ID: "rwd_../x", Recipient: "alice", Amount: models.Whole(1)}})
	var ve *models.ValidationError
	assert.True(t, errors.As(err, &ve), "malformed reserved id should be rejected")
}

func TestPostAndList(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	r, err := q.Post(ctx, PostRequest{Recipient: "alice", Amount: models.Whole(3)})
	require.NoError(t, err)
	assert.Equal(t, "manual", r.SourceSkillID)
	assert.Equal(t, "Manual reward", r.Reason)

	list, err := q.ListByHandle(ctx, "ALICE", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, r.ID, list[0].ID)

	_, err = q.ListByHandle(ctx, "not a handle!", 10)
	assert.Error(t, err)
}

func TestMarkAnnounced(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()

	r, err := q.Post(ctx, PostRequest{Recipient: "alice", Amount: models.Whole(3)})
	require.NoError(t, err)

	require.NoError(t, q.MarkAnnounced(ctx, r.ID, errors.New("reply failed")))
	got, _ := s.GetReward(ctx, r.ID)
	assert.False(t, got.Announced)
	assert.Equal(t, "reply failed", got.AnnounceError)
	assert.Equal(t, models.RewardPending, got.Status, "announce failure must not change status")

	require.NoError(t, q.MarkAnnounced(ctx, r.ID, nil))
	got, _ = s.GetReward(ctx, r.ID)
	assert.True(t, got.Announced)
	assert.Empty(t, got.AnnounceError)
}
