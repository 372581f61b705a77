// Package bootstrap performs the one-time initial setup of a freshly
// provisioned manager: wait for it to come up, rotate the generated admin
// password, and lay down the base configuration.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"nexusallow/internal/domain"
	"nexusallow/internal/reconcile"
)

// State is the sequencer's position in the bootstrap flow.
type State string

const (
	StateWaitingForManager      State = "waiting-for-manager"
	StateInitialPasswordPresent State = "initial-password-present"
	StatePasswordAlreadyRotated State = "password-already-rotated"
	StateBaseConfigured         State = "base-configured"
	StateReady                  State = "ready"
)

const defaultPollInterval = 5 * time.Second

// Config wires a Sequencer.
type Config struct {
	// DataDir is the manager's data directory holding the generated
	// admin.password sentinel on first boot.
	DataDir string

	// AdminPassword is the operator-supplied credential the initial
	// password is rotated to.
	AdminPassword string

	// NewClient builds an admin client authenticating with the given
	// password. Called once with AdminPassword and, when the sentinel is
	// present, once with the initial password for the rotation call.
	NewClient func(password string) domain.AdminClient

	// Reconcile runs one full reconciliation pass for every configured
	// ecosystem.
	Reconcile func(ctx context.Context) error

	// PollInterval is the fixed reachability probe interval. Retries are
	// unbounded: a sidecar waits indefinitely for its co-starting manager.
	PollInterval time.Duration

	Logger *slog.Logger
}

// Sequencer drives the bootstrap state machine.
type Sequencer struct {
	cfg   Config
	state State
}

// NewSequencer creates a Sequencer in the waiting state.
func NewSequencer(cfg Config) *Sequencer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Sequencer{cfg: cfg, state: StateWaitingForManager}
}

// State returns the sequencer's current state.
func (s *Sequencer) State() State { return s.state }

func (s *Sequencer) transition(next State) {
	s.cfg.Logger.Info("bootstrap state", "from", s.state, "to", next)
	s.state = next
}

// Run executes the bootstrap flow to completion. Any error after the wait
// loop is fatal to the caller: no reconciliation can succeed without a
// configured, authenticated manager. Returns once the Ready state is
// reached.
func (s *Sequencer) Run(ctx context.Context) error {
	client := s.cfg.NewClient(s.cfg.AdminPassword)

	if err := s.waitForManager(ctx, client); err != nil {
		return err
	}

	initial, err := s.readInitialPassword()
	switch {
	case errors.Is(err, domain.ErrAlreadyChanged):
		// Restart of an already-configured instance.
		s.transition(StatePasswordAlreadyRotated)
	case err != nil:
		return err
	default:
		s.transition(StateInitialPasswordPresent)
		if err := s.rotateAndConfigure(ctx, initial); err != nil {
			return err
		}
		s.transition(StateBaseConfigured)
	}

	if err := client.TestAuth(ctx); err != nil {
		return fmt.Errorf("authentication check before ready: %w", err)
	}
	s.transition(StateReady)
	return nil
}

// RotateOnly performs just the credential rotation: read the sentinel and
// change the password. Used by the one-shot CLI command; unlike Run it does
// not wait for the manager or touch any other configuration. Returns
// ErrAlreadyChanged when the sentinel is gone.
func (s *Sequencer) RotateOnly(ctx context.Context) error {
	initial, err := s.readInitialPassword()
	if err != nil {
		return err
	}
	rotator := s.cfg.NewClient(initial)
	if err := rotator.ChangeAdminPassword(ctx, s.cfg.AdminPassword); err != nil {
		return fmt.Errorf("rotate initial password: %w", err)
	}
	return nil
}

// waitForManager polls reachability on a fixed interval until the manager
// answers or ctx is cancelled.
func (s *Sequencer) waitForManager(ctx context.Context, client domain.AdminClient) error {
	for {
		err := client.Ping(ctx)
		if err == nil {
			return nil
		}
		s.cfg.Logger.Info("manager not reachable, waiting",
			"interval", s.cfg.PollInterval, "err", err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
}

// readInitialPassword reads the manager's generated admin.password sentinel.
// The manager removes the file when the password is first changed, so its
// absence means the initial-password flow has already completed.
func (s *Sequencer) readInitialPassword() (string, error) {
	path := filepath.Join(s.cfg.DataDir, "admin.password")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("sentinel %s: %w", path, domain.ErrAlreadyChanged)
		}
		return "", fmt.Errorf("read initial password %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// rotateAndConfigure rotates the initial credential and lays down the base
// configuration: proxy repositories, index and allowlist selectors,
// privileges, the consumer role, and anonymous access wired to that role.
func (s *Sequencer) rotateAndConfigure(ctx context.Context, initialPassword string) error {
	rotator := s.cfg.NewClient(initialPassword)
	if err := rotator.ChangeAdminPassword(ctx, s.cfg.AdminPassword); err != nil {
		if errors.Is(err, domain.ErrAlreadyChanged) {
			s.cfg.Logger.Info("initial password already rotated, skipping")
		} else {
			return fmt.Errorf("rotate initial password: %w", err)
		}
	}

	if err := s.cfg.Reconcile(ctx); err != nil {
		return fmt.Errorf("initial reconciliation: %w", err)
	}

	client := s.cfg.NewClient(s.cfg.AdminPassword)
	if err := client.EnableAnonymousAccess(ctx); err != nil {
		return err
	}
	if err := client.SetAnonymousRoles(ctx, []string{reconcile.RoleID}); err != nil {
		return err
	}
	return nil
}
