// Package handlers holds the parts of the HTTP boundary that do not depend on
// the application layer.
//
// # Health Checks
//
// Required checks make the service unhealthy; optional ones only degrade it.
// Details are informational and never fail:
//
//	checker := handlers.NewCompositeHealthChecker("v1")
//	checker.AddCheck("store", handlers.NewPingCheck(store))
//	checker.AddOptionalCheck("redis", handlers.NewPingCheck(cache))
//	checker.AddDetail("events", func() any { return bus.Stats() })
//
// # Authentication
//
// Routes declare a Scope. Learner routes need any valid HS256 bearer token
// whose subject is the learner id; author routes also need one of the
// configured author roles in the "role" or "roles" claim:
//
//	auth := handlers.NewAuthenticator(secret, issuer, []string{"author"})
//	p, err := auth.Authorize(r, handlers.ScopeAuthor)
package handlers
