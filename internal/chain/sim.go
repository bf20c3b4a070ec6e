package chain

import (
	"context"
	"crypto/sha256"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kasperwtrcolor/clawpay/pkg/contracts"
)

// Fault is injected into the next Transfer call of a SimLedger.
type Fault int

const (
	FaultNone Fault = iota
	// FaultTimeout fails before anything is applied.
	FaultTimeout
	// FaultLostConfirmation applies the transfer and then reports
	// ErrUnconfirmed, as if the confirmation never arrived.
	FaultLostConfirmation
	// FaultReject refuses the transfer.
	FaultReject
)

// SimLedger is an in-memory token ledger with allowances granted to a single
// settlement authority. Transfers are idempotent by reference.
type SimLedger struct {
	mu         sync.Mutex
	token      common.Address
	balances   map[common.Address]*big.Int
	allowances map[common.Address]*big.Int
	transfers  map[string]*contracts.TransferReceipt
	faults     []Fault
	delay      time.Duration
	submitted  int
	seq        uint64
}

func NewSimLedger(token common.Address) *SimLedger {
	return &SimLedger{
		token:      token,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]*big.Int),
		transfers:  make(map[string]*contracts.TransferReceipt),
	}
}

// Token returns the simulated token address.
func (l *SimLedger) Token() common.Address { return l.token }

// Fund sets owner's token balance.
func (l *SimLedger) Fund(owner common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[owner] = new(big.Int).Set(amount)
}

// Approve sets the allowance owner grants the settlement authority.
func (l *SimLedger) Approve(owner common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allowances[owner] = new(big.Int).Set(amount)
}

// InjectFault queues a fault for a future Transfer call.
func (l *SimLedger) InjectFault(f Fault) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.faults = append(l.faults, f)
}

// SetDelay makes every Transfer wait d (or until ctx is done) before acting.
func (l *SimLedger) SetDelay(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.delay = d
}

// Submitted returns how many transfers were actually applied.
func (l *SimLedger) Submitted() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.submitted
}

func (l *SimLedger) Allowance(_ context.Context, owner common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return valueOf(l.allowances, owner), nil
}

func (l *SimLedger) Balance(_ context.Context, owner, token common.Address) (*big.Int, error) {
	if token != l.token {
		return big.NewInt(0), nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return valueOf(l.balances, owner), nil
}

func (l *SimLedger) Transfer(ctx context.Context, req contracts.TransferRequest) (*contracts.TransferReceipt, error) {
	l.mu.Lock()
	delay := l.delay
	l.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrUnconfirmed, ctx.Err())
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if r, ok := l.transfers[req.Reference]; ok && req.Reference != "" {
		cp := *r
		return &cp, nil
	}

	fault := FaultNone
	if len(l.faults) > 0 {
		fault, l.faults = l.faults[0], l.faults[1:]
	}
	switch fault {
	case FaultTimeout:
		return nil, fmt.Errorf("%w: simulated timeout", ErrUnconfirmed)
	case FaultReject:
		return nil, fmt.Errorf("%w: simulated rejection", ErrRejected)
	}

	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount", ErrRejected)
	}
	if req.UseDelegation && valueOf(l.allowances, req.From).Cmp(req.Amount) < 0 {
		return nil, fmt.Errorf("%w: allowance exceeded", ErrRejected)
	}
	if valueOf(l.balances, req.From).Cmp(req.Amount) < 0 {
		return nil, fmt.Errorf("%w: insufficient balance", ErrRejected)
	}

	if req.UseDelegation {
		l.allowances[req.From] = new(big.Int).Sub(l.allowances[req.From], req.Amount)
	}
	l.balances[req.From] = new(big.Int).Sub(l.balances[req.From], req.Amount)
	l.balances[req.To] = new(big.Int).Add(valueOf(l.balances, req.To), req.Amount)
	l.submitted++
	l.seq++

	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", req.Reference, l.seq)))
	receipt := &contracts.TransferReceipt{
		Signature:   common.BytesToHash(sum[:]).Hex(),
		Reference:   req.Reference,
		Confirmed:   true,
		ConfirmedAt: time.Now().UTC(),
	}
	if req.Reference != "" {
		l.transfers[req.Reference] = receipt
	}

	if fault == FaultLostConfirmation {
		return nil, fmt.Errorf("%w: confirmation lost", ErrUnconfirmed)
	}
	cp := *receipt
	return &cp, nil
}

func (l *SimLedger) LookupTransfer(_ context.Context, reference string) (*contracts.TransferReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.transfers[reference]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// BalanceOf is a test helper returning owner's balance.
func (l *SimLedger) BalanceOf(owner common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return valueOf(l.balances, owner)
}

func valueOf(m map[common.Address]*big.Int, k common.Address) *big.Int {
	if v, ok := m[k]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}
