// Package authz turns verified wallet identities into capabilities.
//
// A Capability can only be obtained from an Authority, so privileged service
// operations that take one cannot be invoked on the strength of a client-side
// role claim alone.
package authz

import (
	"time"

	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/internal/wallet"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

// Capability is proof that the holder was authorized for a role at IssuedAt.
type Capability struct {
	holder   string
	role     models.Role
	issuedAt time.Time
}

// Holder is the wallet address the capability was issued to.
func (c *Capability) Holder() string {
	if c == nil {
		return ""
	}
	return c.holder
}

// Role is the role the capability grants.
func (c *Capability) Role() models.Role {
	if c == nil {
		return ""
	}
	return c.role
}

// IssuedAt reports when the authority granted the capability.
func (c *Capability) IssuedAt() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.issuedAt
}

// CanCreateGrant reports whether the holder may open grants.
func (c *Capability) CanCreateGrant() bool {
	return c != nil && (c.role == models.RoleAdmin || c.role == models.RoleGrantOwner)
}

// CanReview reports whether the holder may decide applications on the grant.
func (c *Capability) CanReview(grant models.Grant) bool {
	if c == nil {
		return false
	}
	switch c.role {
	case models.RoleAdmin:
		return true
	case models.RoleGrantOwner:
		return wallet.NormalizeAddress(grant.GrantOwner) == c.holder
	default:
		return false
	}
}

// CanVerifyStudents reports whether the holder may mark documents verified.
func (c *Capability) CanVerifyStudents() bool {
	return c != nil && c.role == models.RoleAdmin
}

// Authority resolves roles from the configured registry and issues capabilities.
type Authority struct {
	admins map[string]struct{}
	owners map[string]struct{}
	now    func() time.Time
}

// NewAuthority builds an authority from admin and grant-owner address lists.
func NewAuthority(admins, grantOwners []string) *Authority {
	return &Authority{
		admins: toSet(admins),
		owners: toSet(grantOwners),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Entitled returns the highest role the address may act in.
func (a *Authority) Entitled(address string) models.Role {
	address = wallet.NormalizeAddress(address)
	if _, ok := a.admins[address]; ok {
		return models.RoleAdmin
	}
	if _, ok := a.owners[address]; ok {
		return models.RoleGrantOwner
	}
	return models.RoleStudent
}

// Resolve picks the session role: the requested one if the address is entitled to it,
// otherwise the highest entitled role when nothing was requested.
func (a *Authority) Resolve(address string, requested models.Role) (models.Role, error) {
	entitled := a.Entitled(address)
	if requested == "" {
		return entitled, nil
	}
	if rank(requested) == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "unknown role")
	}
	if rank(requested) > rank(entitled) {
		return "", appErrors.Clone(appErrors.ErrForbidden, "address is not entitled to role "+string(requested))
	}
	return requested, nil
}

// Issue re-checks the claims against the registry and grants a capability.
func (a *Authority) Issue(claims *models.WalletClaims) (*Capability, error) {
	if claims == nil || claims.Address == "" {
		return nil, appErrors.ErrUnauthorized
	}
	role, err := a.Resolve(claims.Address, claims.Role)
	if err != nil {
		return nil, err
	}
	return &Capability{
		holder:   wallet.NormalizeAddress(claims.Address),
		role:     role,
		issuedAt: a.now(),
	}, nil
}

func rank(role models.Role) int {
	switch role {
	case models.RoleStudent:
		return 1
	case models.RoleGrantOwner:
		return 2
	case models.RoleAdmin:
		return 3
	default:
		return 0
	}
}

func toSet(addresses []string) map[string]struct{} {
	set := make(map[string]struct{}, len(addresses))
	for _, addr := range addresses {
		addr = wallet.NormalizeAddress(addr)
		if addr != "" {
			set[addr] = struct{}{}
		}
	}
	return set
}
