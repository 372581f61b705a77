// Package reconcile converges the manager's access-control state to the
// operator-declared allowlist state. Every pass re-reads remote state before
// mutating, so passes are idempotent and safe to repeat or interleave with
// external triggers.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"nexusallow/internal/domain"
	"nexusallow/internal/metrics"
	"nexusallow/internal/selector"
)

const (
	// RoleID identifies the role granted to package consumers. The anonymous
	// user carries only this role.
	RoleID   = "allowlist-user"
	RoleName = "allowlist user"

	roleDescription = "allows access to allowlisted packages"
)

// Spec is the desired state for one ecosystem.
type Spec struct {
	Ecosystem domain.Ecosystem
	Mode      domain.Mode
	Allowlist domain.Allowlist
}

// RunRecord summarizes one ecosystem's reconciliation pass for the history
// store.
type RunRecord struct {
	Ecosystem  string
	Mode       string
	Packages   int
	Expression string
	Mutations  int
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// RunRecorder persists reconciliation outcomes. Implemented by the history
// store; nil disables recording.
type RunRecorder interface {
	RecordRun(ctx context.Context, run RunRecord) error
}

// Reconciler applies desired allowlist state against a RemoteState.
type Reconciler struct {
	remote   domain.RemoteState
	recorder RunRecorder
	logger   *slog.Logger
}

// New creates a Reconciler. recorder may be nil.
func New(remote domain.RemoteState, recorder RunRecorder, logger *slog.Logger) *Reconciler {
	return &Reconciler{remote: remote, recorder: recorder, logger: logger}
}

// Apply converges one ecosystem and returns the number of mutating remote
// calls issued. The expression is computed before any remote call, so an
// invalid allowlist entry leaves remote state untouched. Within the pass a
// failure aborts the remaining steps: every step is idempotent and the next
// trigger retries from the top.
func (r *Reconciler) Apply(ctx context.Context, spec Spec) (int, error) {
	eco := spec.Ecosystem
	expression, err := selector.Build(eco, spec.Mode, spec.Allowlist)
	if err != nil {
		return 0, err
	}

	mutations := 0
	count := func(mutated bool, err error) error {
		if mutated {
			mutations++
			metrics.MutatingCalls.Inc()
		}
		return err
	}

	// Dependency order: privileges reference selectors and repositories by
	// name, and the role references privileges.
	if err := count(r.remote.EnsureProxyRepository(ctx, eco)); err != nil {
		return mutations, fmt.Errorf("repository %s: %w", eco.RepoName, err)
	}

	privileges := []string{eco.PrivilegeName()}
	for _, def := range selector.IndexSelectors(eco) {
		if err := count(r.remote.EnsureContentSelector(ctx, def.Name, def.Description, def.Expression)); err != nil {
			return mutations, fmt.Errorf("content selector %s: %w", def.Name, err)
		}
		if err := count(r.remote.EnsureContentSelectorPrivilege(ctx, def.Name, def.Description, eco, def.Name)); err != nil {
			return mutations, fmt.Errorf("privilege %s: %w", def.Name, err)
		}
		privileges = append(privileges, def.Name)
	}

	description := fmt.Sprintf("Allow access to allowlisted %s packages", eco.Key)
	if err := count(r.remote.EnsureContentSelector(ctx, eco.SelectorName(), description, expression)); err != nil {
		return mutations, fmt.Errorf("content selector %s: %w", eco.SelectorName(), err)
	}
	if err := count(r.remote.EnsureContentSelectorPrivilege(ctx, eco.PrivilegeName(), description, eco, eco.SelectorName())); err != nil {
		return mutations, fmt.Errorf("privilege %s: %w", eco.PrivilegeName(), err)
	}

	if err := r.ensureRoleGrants(ctx, privileges, &mutations); err != nil {
		return mutations, fmt.Errorf("role %s: %w", RoleID, err)
	}

	r.logger.Info("ecosystem reconciled",
		"ecosystem", eco.Key, "mode", spec.Mode,
		"packages", len(spec.Allowlist), "mutations", mutations)
	return mutations, nil
}

// ensureRoleGrants adds the ecosystem's privileges to the consumer role,
// creating the role when it does not exist yet. Grants are additive so
// sibling ecosystems never remove each other's privileges.
func (r *Reconciler) ensureRoleGrants(ctx context.Context, privileges []string, mutations *int) error {
	mutated, err := r.remote.GrantRolePrivileges(ctx, RoleID, privileges)
	if roleMissing(err) {
		mutated, err = r.remote.EnsureRole(ctx, RoleID, RoleName, roleDescription, privileges)
	}
	if mutated {
		*mutations++
		metrics.MutatingCalls.Inc()
	}
	return err
}

func roleMissing(err error) bool {
	var verr *domain.ValidationError
	return errors.As(err, &verr) && verr.StatusCode == http.StatusNotFound
}

// ApplyAll reconciles every spec independently. A failure in one
// ecosystem's pass never blocks the others; all failures are joined into
// the returned error.
func (r *Reconciler) ApplyAll(ctx context.Context, specs []Spec) error {
	var errs []error
	for _, spec := range specs {
		started := time.Now()
		mutations, err := r.Apply(ctx, spec)

		metrics.ReconcilePasses.Inc()
		if err != nil {
			metrics.ReconcileFailures.Inc()
			r.logger.Error("reconciliation failed",
				"ecosystem", spec.Ecosystem.Key, "err", err)
			errs = append(errs, fmt.Errorf("ecosystem %s: %w", spec.Ecosystem.Key, err))
		} else {
			metrics.LastSuccess.Set(time.Now().Unix())
		}

		if r.recorder != nil {
			record := RunRecord{
				Ecosystem:  spec.Ecosystem.Key,
				Mode:       string(spec.Mode),
				Packages:   len(spec.Allowlist),
				Mutations:  mutations,
				Err:        err,
				StartedAt:  started,
				FinishedAt: time.Now(),
			}
			// When the build itself failed the expression stays empty and
			// the run error names the offending entry.
			if expression, buildErr := selector.Build(spec.Ecosystem, spec.Mode, spec.Allowlist); buildErr == nil {
				record.Expression = expression
			}
			if recErr := r.recorder.RecordRun(ctx, record); recErr != nil {
				r.logger.Warn("cannot record reconciliation run", "err", recErr)
			}
		}
	}
	return errors.Join(errs...)
}
