// Package api provides the JSON REST API server for the Zonda service.
//
// # Architecture
//
// The server uses Go 1.22+ routing with a layered middleware stack:
//
//	Recovery → RequestID → Logging → CORS → [per-route RateLimit → Auth] → Routes
//
// Rate limiting and authentication wrap individual routes rather than the
// whole stack, so each endpoint carries its own request budget and only the
// protected endpoints pay for token verification. The health probe bypasses
// the stack via a top-level mux.
//
// # Endpoints
//
// Public:
//   - POST /api/register: create an account (10/min per IP)
//   - POST /api/login: exchange credentials for a token pair (5/min)
//   - POST /api/refresh: rotate a token pair (10/min)
//   - GET /api/health: liveness plus index/user-store state (no middleware)
//
// Bearer-token protected:
//   - GET /api/me: the authenticated account
//   - POST /api/chat: blocking grounded answer (20/min)
//   - POST /api/chat/stream: the same answer as SSE fragments (20/min)
//
// # Error Handling
//
// Every error body is {"detail": "..."} with an optional "error_code" field
// ("RATE_LIMIT_EXCEEDED" on 429, "INTERNAL_ERROR" on 500). Upstream failure
// detail is logged, never returned: retrieval and generation outages surface
// as a generic 503.
//
// # SSE Streaming
//
// POST /api/chat/stream retrieves context before committing headers, so
// retrieval failures still produce a JSON 503. After that the response is
// data-only SSE frames: one "data:" event per generated fragment, an in-band
// error fragment if generation dies mid-stream, and always a terminal
// "data: [DONE]" event.
package api
