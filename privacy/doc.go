// Package privacy provides an authorization layer evaluated before
// statements reach the database.
//
// # Core Concepts
//
// A Policy holds two lists of rules: Query rules for selects, counts and
// aggregates, and Mutation rules for creates, updates and deletes. A
// policy is an interceptor and is installed on a DAO with Use:
//
//	posts := posts.Use(privacy.Policy{
//		Query: privacy.Rules{
//			privacy.TenantRule("tenant_id", nil),
//		},
//		Mutation: privacy.Rules{
//			privacy.DenyIfNoViewer(),
//			privacy.TenantRule("tenant_id", nil),
//			privacy.HasRole("admin"),
//			privacy.IsOwner("owner_id", privacy.IntKey),
//			privacy.AlwaysDenyRule(),
//		},
//	})
//
// # Rule Evaluation
//
// Rules are evaluated in order until one returns a final decision:
//
//   - Allow: grants access and stops evaluation
//   - Deny: denies access and stops evaluation
//   - Skip: continues to the next rule
//
// If all rules skip, the operation proceeds. Rules may narrow the
// operation with Operation.Where on their way, as FilterFunc,
// IsOwner and TenantRule do.
//
// # Viewer
//
// The viewer is stored in context and retrieved during evaluation:
//
//	ctx = privacy.WithViewer(ctx, &privacy.SimpleViewer{
//		UserID: "7",
//		Roles:  []string{"user"},
//	})
//	list, err := posts.All().All(ctx)
//
// A decision attached with DecisionContext bypasses the policies, which
// is how trusted code paths (migrations, background jobs) run
// unrestricted:
//
//	ctx = privacy.DecisionContext(ctx, privacy.Allow)
//
// # Error Handling
//
// A denied operation fails with its decision:
//
//	if errors.Is(err, privacy.Deny) {
//		...
//	}
package privacy
