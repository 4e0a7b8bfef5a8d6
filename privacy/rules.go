package privacy

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/syssam/nomnom"
	"github.com/syssam/nomnom/schema/field"
)

// Viewer represents the authenticated user making a request.
// This interface should be implemented by application-specific user types.
type Viewer interface {
	// GetID returns the viewer's unique identifier.
	GetID() string
	// GetRoles returns the viewer's roles.
	GetRoles() []string
	// GetTenantID returns the viewer's tenant identifier for multi-tenancy.
	// Returns empty string if not applicable.
	GetTenantID() string
}

// viewerCtxKey is the context key for storing the viewer.
type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext retrieves the viewer from the context.
// Returns nil if no viewer is present.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic implementation of the Viewer interface.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

// GetID returns the user ID.
func (v *SimpleViewer) GetID() string { return v.UserID }

// GetRoles returns the user's roles.
func (v *SimpleViewer) GetRoles() []string { return v.Roles }

// GetTenantID returns the tenant ID.
func (v *SimpleViewer) GetTenantID() string { return v.TenantID }

// KeyFunc converts a viewer or tenant identifier to the value stored in
// a column. A nil KeyFunc keeps the identifier as a string.
type KeyFunc func(string) (any, error)

// IntKey parses identifiers stored in integer columns.
func IntKey(id string) (any, error) {
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("privacy: identifier %q is not an integer: %w", id, err)
	}
	return n, nil
}

func (k KeyFunc) key(id string) (any, error) {
	if k == nil {
		return id, nil
	}
	return k(id)
}

// DenyIfNoViewer returns a rule that denies access if no viewer is present
// in the context. This is typically the first rule of a policy.
func DenyIfNoViewer() Rule {
	return ContextRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("privacy: viewer required")
		}
		return Skip
	})
}

// HasRole returns a rule that allows access if the viewer has the
// specified role, and skips otherwise.
func HasRole(role string) Rule {
	return HasAnyRole(role)
}

// HasAnyRole returns a rule that allows access if the viewer has any of
// the specified roles, and skips otherwise.
//
// Example:
//
//	privacy.Rules{
//		privacy.DenyIfNoViewer(),
//		privacy.HasAnyRole("admin", "moderator"),
//		privacy.AlwaysDenyRule(),
//	}
func HasAnyRole(roles ...string) Rule {
	return ContextRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		for _, role := range roles {
			if slices.Contains(viewer.GetRoles(), role) {
				return Allow
			}
		}
		return Skip
	})
}

// IsOwner returns a rule granting the viewer access to the rows it owns.
// Creates are allowed when every row names the viewer in column. Other
// operations are narrowed to the rows whose column holds the viewer and
// allowed. Updates that hand a row over to someone else are denied.
//
// Example:
//
//	privacy.Rules{
//		privacy.DenyIfNoViewer(),
//		privacy.HasRole("admin"),
//		privacy.IsOwner("owner_id", privacy.IntKey),
//	}
func IsOwner(column string, key KeyFunc) Rule {
	return RuleFunc(func(ctx context.Context, op *nomnom.Operation) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		id, err := key.key(viewer.GetID())
		if err != nil {
			return err
		}
		if op.Op == nomnom.OpCreate {
			if len(op.Rows) == 0 {
				return Skip
			}
			for _, row := range op.Rows {
				if v, ok := row[column]; !ok || !same(v, id) {
					return Skip
				}
			}
			return Allow
		}
		if v, ok := op.Data[column]; ok && !same(v, id) {
			return Denyf("privacy: %s of %s cannot change", column, op.Schema().Model())
		}
		op.Where(nomnom.Filter{column: id})
		return Allow
	})
}

// TenantRule returns a rule isolating the viewer's tenant. Creates get
// column set to the tenant when missing, and are denied when they name
// another tenant. Other operations are narrowed to the rows of the
// tenant. Operations without a viewer or a tenant are denied.
func TenantRule(column string, key KeyFunc) Rule {
	return RuleFunc(func(ctx context.Context, op *nomnom.Operation) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil || viewer.GetTenantID() == "" {
			return Denyf("privacy: tenant required")
		}
		id, err := key.key(viewer.GetTenantID())
		if err != nil {
			return err
		}
		if op.Op == nomnom.OpCreate {
			for _, row := range op.Rows {
				v, ok := row[column]
				switch {
				case !ok:
					row[column] = id
				case !same(v, id):
					return Denyf("privacy: tenant mismatch")
				}
			}
			return Skip
		}
		if v, ok := op.Data[column]; ok && !same(v, id) {
			return Denyf("privacy: tenant mismatch")
		}
		op.Where(nomnom.Filter{column: id})
		return Skip
	})
}

func same(v, id any) bool {
	return fmt.Sprint(field.Indirect(v)) == fmt.Sprint(id)
}
