package domain

import "context"

// RemoteState is the idempotent view of the manager's access-control state
// consumed by the reconciler. Every Ensure method re-reads the live resource
// before deciding whether to mutate and reports whether a mutating call was
// issued; identical desired state means zero writes.
type RemoteState interface {
	// Ping probes plain reachability without credentials.
	Ping(ctx context.Context) error

	// TestAuth verifies the configured credentials against the manager.
	TestAuth(ctx context.Context) error

	// EnsureProxyRepository creates the ecosystem's proxy repository if it
	// is absent. An existing repository is never mutated: upstream URL and
	// policy are operator-managed.
	EnsureProxyRepository(ctx context.Context, eco Ecosystem) (bool, error)

	// EnsureContentSelector creates the selector, or updates its expression
	// when the stored one differs from expression.
	EnsureContentSelector(ctx context.Context, name, description, expression string) (bool, error)

	// EnsureContentSelectorPrivilege creates or rebinds the privilege
	// linking selector to the ecosystem's repository.
	EnsureContentSelectorPrivilege(ctx context.Context, name, description string, eco Ecosystem, selector string) (bool, error)

	// EnsureRole creates the role with the given privileges, or replaces
	// the privilege set when it differs (order-insensitive comparison).
	EnsureRole(ctx context.Context, id, name, description string, privileges []string) (bool, error)

	// GrantRolePrivileges adds privileges to an existing role, writing only
	// when the set actually grows. Unlike EnsureRole it never removes
	// privileges granted by another ecosystem's pass.
	GrantRolePrivileges(ctx context.Context, id string, privileges []string) (bool, error)
}

// AdminClient extends RemoteState with operations used only during
// bootstrap: credential rotation and anonymous-access wiring.
type AdminClient interface {
	RemoteState

	// ChangeAdminPassword rotates the admin credential. Returns
	// ErrAlreadyChanged when the manager reports the initial-password flow
	// as already completed.
	ChangeAdminPassword(ctx context.Context, newPassword string) error

	// EnableAnonymousAccess turns on unauthenticated access.
	EnableAnonymousAccess(ctx context.Context) error

	// SetAnonymousRoles replaces the anonymous user's role set.
	SetAnonymousRoles(ctx context.Context, roles []string) error
}
