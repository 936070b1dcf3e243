package service

import (
	"context"
	"sync"

	"collab-notes-core/internal/apperror"
	"collab-notes-core/internal/entity"
	"collab-notes-core/internal/pkg/logger"
	"collab-notes-core/internal/repository/contract"
)

type ChallengeState string

const (
	StateIdle        ChallengeState = "idle"
	StateChallenging ChallengeState = "challenging"
	StateGranted     ChallengeState = "granted"
	StateDenied      ChallengeState = "denied"
	StateCancelled   ChallengeState = "cancelled"
)

type GateAction string

const (
	ActionOpen   GateAction = "open"
	ActionUnlock GateAction = "unlock"
	ActionDelete GateAction = "delete"
)

// Decision is the immediate outcome of requesting an action on a note.
// Either the action proceeds now (Granted, possibly read-only, possibly
// pending a plain confirmation) or a PIN challenge must be resolved first.
type Decision struct {
	State        ChallengeState
	ReadOnly     bool
	NeedsConfirm bool
	Challenge    *Challenge
}

// IAccessGate decides whether open/edit/delete may proceed for a note's
// lock state and drives the PIN challenge. The master wipe bypasses the
// per-note rules entirely.
type IAccessGate interface {
	Request(action GateAction, note *entity.Note) Decision

	// DeleteSelected deletes the given notes in one batch, silently
	// excluding PIN-protected ones. Only the number skipped is reported.
	DeleteSelected(ctx context.Context, notes []*entity.Note) (int, error)

	// MasterWipe deletes every note regardless of pin/lock/pinned state
	// when the injected verifier accepts the secret.
	MasterWipe(ctx context.Context, secret string) error
}

type accessGate struct {
	repo     contract.NoteRepository
	verifier SecretVerifier
	logger   logger.ILogger
}

func NewAccessGate(repo contract.NoteRepository, verifier SecretVerifier, log logger.ILogger) IAccessGate {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &accessGate{repo: repo, verifier: verifier, logger: log}
}

func (g *accessGate) Request(action GateAction, note *entity.Note) Decision {
	if note.PinProtected() {
		return Decision{
			State:     StateChallenging,
			Challenge: g.newChallenge(action, note),
		}
	}

	switch action {
	case ActionOpen:
		// Locked without a PIN opens immediately, read-only.
		return Decision{State: StateGranted, ReadOnly: note.Locked}
	case ActionUnlock:
		return Decision{State: StateGranted}
	case ActionDelete:
		// No PIN protection: a plain (non-PIN) confirmation step.
		return Decision{State: StateGranted, NeedsConfirm: true}
	}
	return Decision{State: StateGranted}
}

func (g *accessGate) DeleteSelected(ctx context.Context, notes []*entity.Note) (int, error) {
	var deletable []string
	skipped := 0
	for _, n := range notes {
		if n.PinProtected() {
			skipped++
			continue
		}
		deletable = append(deletable, n.Id)
	}
	if err := g.repo.DeleteMany(ctx, deletable); err != nil {
		return skipped, err
	}
	if skipped > 0 {
		g.logger.Info("AccessGate", "Bulk delete skipped protected notes", map[string]interface{}{
			"skipped": skipped,
		})
	}
	return skipped, nil
}

func (g *accessGate) MasterWipe(ctx context.Context, secret string) error {
	if g.verifier == nil || !g.verifier.Verify(secret) {
		return apperror.NewAccessDenied("incorrect master password")
	}
	return g.repo.DeleteAll(ctx)
}

func (g *accessGate) newChallenge(action GateAction, note *entity.Note) *Challenge {
	c := &Challenge{
		action: action,
		note:   note,
		state:  StateChallenging,
	}
	switch action {
	case ActionUnlock:
		c.onGranted = func(ctx context.Context) error {
			return g.repo.Unlock(ctx, note.Id)
		}
	case ActionDelete:
		c.onGranted = func(ctx context.Context) error {
			return g.repo.DeleteMany(ctx, []string{note.Id})
		}
	}
	return c
}

// Challenge is one pending PIN entry. The submitted value is compared to the
// note's stored PIN by exact string equality; a wrong PIN leaves the
// challenge open and retryable with no attempt counter.
type Challenge struct {
	mu        sync.Mutex
	action    GateAction
	note      *entity.Note
	state     ChallengeState
	onGranted func(ctx context.Context) error
}

func (c *Challenge) Action() GateAction {
	return c.action
}

func (c *Challenge) State() ChallengeState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Submit resolves the challenge with a PIN attempt. On the correct PIN the
// granted side effect (unlock, delete) runs before the state flips, so a
// failed mutation keeps the challenge retryable.
func (c *Challenge) Submit(ctx context.Context, pin string) (ChallengeState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateGranted, StateCancelled:
		return c.state, nil
	}

	if pin != c.note.PinCode {
		c.state = StateDenied
		return StateDenied, apperror.NewAccessDenied("incorrect PIN")
	}

	if c.onGranted != nil {
		if err := c.onGranted(ctx); err != nil {
			c.state = StateChallenging
			return StateChallenging, err
		}
	}
	c.state = StateGranted
	return StateGranted, nil
}

// Cancel abandons the action with no mutation. Idempotent; a granted
// challenge stays granted.
func (c *Challenge) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateGranted {
		return
	}
	c.state = StateCancelled
}
