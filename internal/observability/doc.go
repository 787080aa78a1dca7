// Package observability builds the process logger and the Prometheus
// collectors for the token refresh pipeline and the route guard.
package observability
