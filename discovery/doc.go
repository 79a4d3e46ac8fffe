// Package discovery locates debuggable browser targets.
//
// A browser started with remote debugging enabled serves a JSON list of
// targets at http://host:port/json (some versions only at /json/list). The
// Discoverer polls that endpoint with exponential backoff and per-attempt
// timeouts until a target of the configured type advertising a
// webSocketDebuggerUrl appears, then hands the descriptor to the connection
// manager. Empty or malformed responses are retried within the attempt
// budget rather than aborting, since the browser may still be starting up.
//
// The same endpoint doubles as a liveness probe for crash detection.
package discovery
