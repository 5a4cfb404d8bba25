// Package session provides the in-memory session registry and lifecycle
// handling: session records, client channel and upstream connection
// bindings, the relay task registry, and the process-wide scraped context.
package session
