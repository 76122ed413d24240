// Package authcore is the authentication core of a multi-tenant
// platform: it issues, validates, rotates, and revokes identity tokens,
// manages sessions with binding, anomaly, and hijack protections, and
// enforces attempt-limited MFA challenges.
//
// The engine is stateless per request. All mutable state lives in Redis
// (sessions, refresh families, revocation facts, challenges) and an
// optional document store (MFA enrollment, backup codes, trusted
// devices), so any number of instances can run behind a load balancer.
// Revocation and security events are published fire-and-forget onto an
// event bus for propagation.
//
// Build an engine with the Builder:
//
//	engine, err := authcore.New().
//		WithRedis(redisClient).
//		WithKeyProvider(provider).
//		WithMongo(mongoDB).
//		Build()
//
// Then drive the flows: IssueSession at login, ValidateAccess per
// request, Refresh for rotation, Logout/LogoutAll for termination, and
// the MFA methods for step-up verification.
package authcore
