// Package server hosts the Fiber HTTP service and its middleware chain:
// panic recovery, request IDs, security headers, CORS and compression for
// JSON responses. Routes are attached by the routes package so that the
// media handlers, admin endpoints and diagnostics stay independently
// testable. Keep exports narrow and accept explicit dependencies.
package server
