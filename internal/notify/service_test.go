package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kasperwtrcolor/clawpay/pkg/models"
)

func TestSend_SignsBody(t *testing.T) {
	var gotSig, gotEvent string
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-ClawPay-Signature")
		gotEvent = r.Header.Get("X-ClawPay-Event")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	svc := NewService(srv.URL, "s3cret")
	r := &models.Reward{ID: "rwd_abc12345", Recipient: "alice", Amount: models.Whole(5), SettlementTx: "sig_1"}
	if err := svc.Send(context.Background(), NewEvent(EventRewardSettled, r)); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if gotEvent != "reward_settled" {
		t.Errorf("X-ClawPay-Event = %q, want reward_settled", gotEvent)
	}
	if want := "sha256=" + Sign("s3cret", body); gotSig != want {
		t.Errorf("X-ClawPay-Signature = %q, want %q", gotSig, want)
	}

	var e Event
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if e.RewardID != r.ID || e.TxSignature != "sig_1" || e.Amount != models.Whole(5) {
		t.Errorf("payload = %+v", e)
	}
}

func TestSend_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewService(srv.URL, "").Send(context.Background(), Event{Type: EventRewardFailed})
	if err == nil {
		t.Fatal("Send() error = nil, want HTTP 502 error")
	}
}

func TestNotify_DisabledIsNoop(t *testing.T) {
	svc := NewService("", "")
	if svc.Enabled() {
		t.Fatal("Enabled() = true for empty URL")
	}
	svc.Notify(context.Background(), Event{Type: EventRewardSettled})
}
