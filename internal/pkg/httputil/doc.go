// Package httputil provides shared HTTP response/request helpers for the
// API handlers.
//
// Handlers should use these instead of writing raw http.ResponseWriter
// calls, so every endpoint produces the same JSON envelopes, error shapes,
// and logging.
package httputil
