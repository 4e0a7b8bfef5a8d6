// Package privacy provides sets of types and helpers for writing privacy
// rules, and deal with their evaluation at runtime.
package privacy

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/syssam/nomnom"
)

// Policy decision sentinel errors.
//
// These errors are used as return values from rules to indicate
// how the policy evaluation should proceed. Use errors.Is() to check
// for these values:
//
//	if errors.Is(err, privacy.Deny) { ... }
var (
	// Allow may be returned by rules to indicate that the policy
	// evaluation should terminate with an allow decision.
	Allow = errors.New("nomnom/privacy: allow rule")

	// Deny may be returned by rules to indicate that the policy
	// evaluation should terminate with a deny decision. The operation
	// fails with the decision before its statement compiles.
	Deny = errors.New("nomnom/privacy: deny rule")

	// Skip may be returned by rules to indicate that the policy
	// evaluation should continue to the next rule in the chain.
	Skip = errors.New("nomnom/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

type (
	// Rule decides whether an operation is allowed and optionally
	// narrows or changes it.
	Rule interface {
		Eval(context.Context, *nomnom.Operation) error
	}

	// RuleFunc adapts an ordinary function to Rule.
	RuleFunc func(context.Context, *nomnom.Operation) error

	// Rules evaluates rules in order until one returns a decision
	// other than Skip.
	Rules []Rule
)

// Eval returns f(ctx, op).
func (f RuleFunc) Eval(ctx context.Context, op *nomnom.Operation) error {
	return f(ctx, op)
}

// Eval returns the first decision that is not Skip. A nil decision is
// treated as Skip.
func (rules Rules) Eval(ctx context.Context, op *nomnom.Operation) error {
	for _, rule := range rules {
		switch decision := rule.Eval(ctx, op); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// Policy groups the rules of reads (select, count and aggregate) and of
// writes (create, update and delete). It is installed on a DAO with Use:
//
//	books := books.Use(privacy.Policy{
//		Query: privacy.Rules{privacy.AlwaysAllowRule()},
//		Mutation: privacy.Rules{
//			privacy.DenyIfNoViewer(),
//			privacy.HasRole("editor"),
//			privacy.AlwaysDenyRule(),
//		},
//	})
type Policy struct {
	Query    Rules
	Mutation Rules
}

// Intercept implements nomnom.Interceptor.
func (p Policy) Intercept(ctx context.Context, op *nomnom.Operation) error {
	return Policies{p}.Intercept(ctx, op)
}

func (p Policy) eval(ctx context.Context, op *nomnom.Operation) error {
	if op.Op.Reads() {
		return p.Query.Eval(ctx, op)
	}
	return p.Mutation.Eval(ctx, op)
}

// Policies combines multiple policies into one interceptor. If the Allow
// decision is returned from one of the policies, the evaluation stops
// and the operation proceeds.
type Policies []Policy

// Intercept implements nomnom.Interceptor. A decision attached to the
// context with DecisionContext overrides the policies.
func (policies Policies) Intercept(ctx context.Context, op *nomnom.Operation) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, policy := range policies {
		switch decision := policy.eval(ctx, op); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

type decisionCtxKey struct{}

// DecisionContext creates a new context from the given parent context with
// a policy decision attach to it.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() Rule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() Rule {
	return fixedDecision{Deny}
}

// ContextRule creates a rule from a context evaluation function.
// Returning nil is equivalent to returning Skip.
func ContextRule(eval func(context.Context) error) Rule {
	return RuleFunc(func(ctx context.Context, _ *nomnom.Operation) error {
		return eval(ctx)
	})
}

// OnOperation evaluates the given rule only on the given operations.
func OnOperation(rule Rule, ops ...nomnom.Op) Rule {
	return RuleFunc(func(ctx context.Context, op *nomnom.Operation) error {
		if slices.Contains(ops, op.Op) {
			return rule.Eval(ctx, op)
		}
		return Skip
	})
}

// DenyOperationRule returns a rule denying the given operations.
func DenyOperationRule(ops ...nomnom.Op) Rule {
	rule := RuleFunc(func(_ context.Context, op *nomnom.Operation) error {
		return Denyf("nomnom/privacy: operation %s on %s is not allowed", op.Op, op.Schema().Model())
	})
	return OnOperation(rule, ops...)
}

// AllowOperationRule returns a rule allowing the given operations.
func AllowOperationRule(ops ...nomnom.Op) Rule {
	return OnOperation(AlwaysAllowRule(), ops...)
}

// FilterFunc narrows the rows an operation reads, updates or deletes.
// The predicate it returns is added to the filters of the operation and
// the rule skips. Creates are skipped untouched. A nil predicate leaves
// the operation as is.
type FilterFunc func(context.Context, nomnom.Schema) (nomnom.Predicate, error)

// Eval implements Rule.
func (f FilterFunc) Eval(ctx context.Context, op *nomnom.Operation) error {
	if op.Op == nomnom.OpCreate {
		return Skip
	}
	p, err := f(ctx, op.Schema())
	if err != nil {
		return err
	}
	if p != nil {
		op.Where(p)
	}
	return Skip
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) Eval(context.Context, *nomnom.Operation) error {
	return f.decision
}

var (
	_ nomnom.Interceptor = Policy{}
	_ nomnom.Interceptor = Policies{}
	_ Rule               = FilterFunc(nil)
)
