package nomnom

import (
	"github.com/syssam/nomnom/dialect/sql/sqlgraph"
)

type conflict struct {
	message string
	kind    string
}

// DescribeConflict maps the unique constraint named constraint to the
// message and kind reported by ConflictError when a write violates it.
//
//	reg.DescribeConflict("users_email_key", "a user with this email already exists", "email")
func (r *Registry) DescribeConflict(constraint, message, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conflicts[constraint] = conflict{message: message, kind: kind}
}

// asConflict returns a ConflictError for unique violations and err
// otherwise.
func (r *Registry) asConflict(model string, err error) error {
	name, ok := sqlgraph.UniqueConstraint(err)
	if !ok {
		return err
	}
	r.mu.RLock()
	desc, described := r.conflicts[name]
	r.mu.RUnlock()
	cerr := &ConflictError{Model: model, Constraint: name, Message: err.Error(), Err: err}
	if described {
		cerr.Message, cerr.Kind = desc.message, desc.kind
	}
	return cerr
}
