// Package driven provides interfaces for infrastructure adapters
// (secondary/outbound ports). The core services depend only on these
// contracts, never on a concrete storage engine or model provider, so
// backends can be substituted and chained for fallback.
package driven
