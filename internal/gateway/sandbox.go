package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Tokens the sandbox treats specially.
const (
	SandboxDeclineToken = "tok_decline"
)

var ErrUnknownIntent = errors.New("unknown intent")

// Sandbox is an in-process provider used for development and tests. Intents
// created with SandboxDeclineToken fail on confirm, Delay slows every call.
type Sandbox struct {
	mu       sync.Mutex
	intents  map[string]*sandboxIntent
	currency string
	minimum  int64

	// Delay is applied before every call and honours ctx.
	Delay time.Duration
}

type sandboxIntent struct {
	Intent
	token string
}

func NewSandbox(currency string, minimum int64) *Sandbox {
	return &Sandbox{
		intents:  make(map[string]*sandboxIntent),
		currency: currency,
		minimum:  minimum,
	}
}

func (s *Sandbox) Currency() string {
	return s.currency
}

func (s *Sandbox) MinimumAmount() int64 {
	return s.minimum
}

func (s *Sandbox) SetDelay(d time.Duration) {
	s.mu.Lock()
	s.Delay = d
	s.mu.Unlock()
}

func (s *Sandbox) wait(ctx context.Context, op string) error {
	s.mu.Lock()
	delay := s.Delay
	s.mu.Unlock()
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return gatewayErr(op, ctx.Err())
	}
}

func (s *Sandbox) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	if err := s.wait(ctx, "create intent"); err != nil {
		return nil, err
	}
	if req.Amount < s.minimum {
		return nil, gatewayErr("create intent", fmt.Errorf("amount %d below minimum %d", req.Amount, s.minimum))
	}

	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	in := &sandboxIntent{
		Intent: Intent{
			ID:       "pi_" + uuid.NewString(),
			Amount:   req.Amount,
			Currency: currency,
			Status:   IntentPending,
		},
		token: req.Token,
	}
	s.intents[in.ID] = in
	out := in.Intent
	return &out, nil
}

func (s *Sandbox) ConfirmIntent(ctx context.Context, intentID string) (*Intent, error) {
	return s.transition(ctx, "confirm intent", intentID, func(in *sandboxIntent) error {
		if in.Status != IntentPending {
			return fmt.Errorf("intent is %s", in.Status)
		}
		if in.token == SandboxDeclineToken {
			in.Status = IntentFailed
			in.FailureCode = "insufficient_fund"
			in.FailureMessage = "card declined"
			return nil
		}
		in.Status = IntentSucceeded
		in.TransactionID = "txn_" + uuid.NewString()
		return nil
	})
}

func (s *Sandbox) CancelIntent(ctx context.Context, intentID string) (*Intent, error) {
	return s.transition(ctx, "cancel intent", intentID, func(in *sandboxIntent) error {
		if in.Status != IntentPending {
			return fmt.Errorf("intent is %s", in.Status)
		}
		in.Status = IntentCancelled
		return nil
	})
}

func (s *Sandbox) Refund(ctx context.Context, intentID string, amount int64) (*Intent, error) {
	return s.transition(ctx, "refund", intentID, func(in *sandboxIntent) error {
		if in.Status != IntentSucceeded {
			return fmt.Errorf("intent is %s", in.Status)
		}
		if amount > in.Amount {
			return fmt.Errorf("refund %d exceeds captured %d", amount, in.Amount)
		}
		in.Status = IntentRefunded
		return nil
	})
}

func (s *Sandbox) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	return s.transition(ctx, "get intent", intentID, func(*sandboxIntent) error { return nil })
}

// Settle moves an intent to a final state without a client call, the way a
// provider completes a charge on its own before notifying us.
func (s *Sandbox) Settle(intentID string, status IntentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[intentID]
	if !ok {
		return ErrUnknownIntent
	}
	in.Status = status
	if status == IntentSucceeded && in.TransactionID == "" {
		in.TransactionID = "txn_" + uuid.NewString()
	}
	return nil
}

func (s *Sandbox) transition(ctx context.Context, op, intentID string, apply func(*sandboxIntent) error) (*Intent, error) {
	if err := s.wait(ctx, op); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.intents[intentID]
	if !ok {
		return nil, gatewayErr(op, ErrUnknownIntent)
	}
	if err := apply(in); err != nil {
		return nil, gatewayErr(op, err)
	}
	out := in.Intent
	return &out, nil
}
