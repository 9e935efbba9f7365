package escrow

import "fmt"

// Role names one of the privileged identities recognised by the gate.
type Role uint8

const (
	RoleOwner Role = iota
	RoleMarketplace
	RoleDisputeAuthority
)

func (r Role) String() string {
	switch r {
	case RoleOwner:
		return "owner"
	case RoleMarketplace:
		return "marketplace"
	case RoleDisputeAuthority:
		return "dispute_authority"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Roles binds each privileged role to exactly one identity. A zero identity
// means the role is unbound and matches no caller.
type Roles struct {
	Owner            [20]byte
	Marketplace      [20]byte
	DisputeAuthority [20]byte
}

// Clone returns a copy of the bindings.
func (r *Roles) Clone() *Roles {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// Bound returns the identity currently bound to role.
func (r *Roles) Bound(role Role) [20]byte {
	if r == nil {
		return [20]byte{}
	}
	switch role {
	case RoleOwner:
		return r.Owner
	case RoleMarketplace:
		return r.Marketplace
	case RoleDisputeAuthority:
		return r.DisputeAuthority
	default:
		return [20]byte{}
	}
}

// Has reports whether caller holds role.
func (r *Roles) Has(role Role, caller [20]byte) bool {
	bound := r.Bound(role)
	return bound != ([20]byte{}) && bound == caller
}

func (r *Roles) require(caller [20]byte, allowed ...Role) error {
	for _, role := range allowed {
		if r.Has(role, caller) {
			return nil
		}
	}
	if len(allowed) == 1 {
		return fmt.Errorf("%w: %s only", ErrUnauthorized, allowed[0])
	}
	return fmt.Errorf("%w: %s or %s required", ErrUnauthorized, allowed[0], allowed[1])
}

// RequireOwner gates owner-only administration.
func (r *Roles) RequireOwner(caller [20]byte) error { return r.require(caller, RoleOwner) }

// RequireMarketplace gates pay and release.
func (r *Roles) RequireMarketplace(caller [20]byte) error {
	return r.require(caller, RoleMarketplace)
}

// RequireMarketplaceOrDispute gates create and refund. Either role suffices.
func (r *Roles) RequireMarketplaceOrDispute(caller [20]byte) error {
	return r.require(caller, RoleMarketplace, RoleDisputeAuthority)
}

// ParseRole accepts the role names used by configuration and the CLI.
func ParseRole(value string) (Role, error) {
	switch value {
	case "owner":
		return RoleOwner, nil
	case "marketplace":
		return RoleMarketplace, nil
	case "dispute", "dispute_authority", "dispute-authority":
		return RoleDisputeAuthority, nil
	default:
		return 0, fmt.Errorf("%w: unknown role %q", ErrInvalidParameter, value)
	}
}
