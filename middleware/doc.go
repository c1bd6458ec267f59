// Package middleware holds the net/http adapters placed in front of
// authcore.Engine handlers.
//
// # Chain
//
//   - [RequestContext] assigns a request id, records the client address and
//     User-Agent for the engine, and logs each request once it completes.
//   - [SecurityHeaders] sets no-store and hardening headers on every response.
//   - [Throttle] applies a per-address token bucket.
//   - [RequireBearer] validates the Authorization header and stores the
//     claims in the request context.
//
// The package translates HTTP into engine calls. Token parsing, lockout and
// session decisions all stay in the engine.
package middleware
