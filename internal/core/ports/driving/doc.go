// Package driving provides interfaces for the primary/inbound ports: the
// operations the core exposes to callers such as the CLI or an HTTP layer.
package driving
