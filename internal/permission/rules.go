// Package permission implements the Synchronizer's access-control
// rules as pure, composable (ctx) -> bool predicates. Rules are
// AND-composed: every rule in a Set must pass for an action to be
// allowed, and a Set with no rules at all default-allows — matching
// the system's "local-only operation needs no authorization" posture.
//
// Grounded on the teacher's internal/auth.Claims.HasPermission, whose
// admin-override shape ("admin can do anything, otherwise check the
// specific permission") is generalized here into a reusable predicate
// instead of a single hardcoded method.
package permission

// Permission names one capability a remote peer can be granted.
type Permission string

const (
	PermissionReveal Permission = "reveal" // may learn this document exists via the directory protocol
	PermissionSync   Permission = "sync"   // may receive and send CRDT updates for a document
	PermissionAdmin  Permission = "admin"  // bypasses Reveal/Sync checks entirely
)

// Context is everything a rule needs to decide an action.
type Context struct {
	PeerID      string
	DocID       string
	ChannelID   int64
	Local       bool // true when the actor is this process itself, not a remote peer
	Permissions map[Permission]bool
}

func (c Context) has(p Permission) bool {
	return c.Permissions != nil && c.Permissions[p]
}

// Rule is one composable predicate.
type Rule func(Context) bool

// Set is an AND-composed group of rules with a default answer when
// empty.
type Set struct {
	defaultAllow bool
	rules        []Rule
}

// NewSet builds a rule set. defaultAllow is the answer when rules is
// empty — local-only deployments typically pass no rules and default
// to true.
func NewSet(defaultAllow bool, rules ...Rule) *Set {
	return &Set{defaultAllow: defaultAllow, rules: rules}
}

// Allow reports whether every rule in the set passes for ctx. A nil
// Set default-allows, matching the zero-configuration local-only case.
func (s *Set) Allow(ctx Context) bool {
	if s == nil {
		return true
	}
	if len(s.rules) == 0 {
		return s.defaultAllow
	}
	for _, r := range s.rules {
		if !r(ctx) {
			return false
		}
	}
	return true
}

// RequirePermission builds a rule that allows local actors and admins
// unconditionally, and otherwise requires the named permission.
func RequirePermission(p Permission) Rule {
	return func(ctx Context) bool {
		if ctx.Local || ctx.has(PermissionAdmin) {
			return true
		}
		return ctx.has(p)
	}
}

// CanReveal is the rule the directory protocol (internal/sync) checks
// before telling a peer a document exists.
func CanReveal(ctx Context) bool {
	return RequirePermission(PermissionReveal)(ctx)
}

// CanUpdate is the rule the sync protocol checks before accepting or
// forwarding CRDT updates for a document to/from a peer.
func CanUpdate(ctx Context) bool {
	return RequirePermission(PermissionSync)(ctx)
}
