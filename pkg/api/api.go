// Package api defines the wire route and header constants shared by the
// worker HTTP service and the master's HTTP transport, per spec.md §6.
package api

// Version is the worker service's reported build version.
const Version = "0.1.0"

// Dispatch routes. RoutePrefixQuery2 is the current protocol; legacy
// requests still land on RoutePrefixQueryLegacy (protocol=1, deprecated
// but accepted), per spec.md §6's "Session URL encodes dispatch path
// /query2/<chunk> (new protocol) vs /query/<chunk> (legacy; deprecated
// but accepted)".
const (
	RoutePrefixQuery2       = "/query2"
	RoutePrefixQueryLegacy  = "/query"
	RouteHealth             = "/health"
	RouteReady              = "/ready"
)

// HTTP headers.
const (
	HeaderContentType   = "Content-Type"
	HeaderAuthorization = "Authorization"
	HeaderJobID         = "X-Job-ID"
)

// Content types.
const (
	ContentTypeJSON   = "application/json"
	ContentTypeNDJSON = "application/x-ndjson"
)
