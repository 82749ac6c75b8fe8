// Package logsink provides an event sink that writes events to the
// verbose log. It stands in for an external observability collector in
// single-binary deployments.
package logsink

import (
	"fmt"
	"sort"
	"strings"

	"github.com/archon-labs/docbrain/internal/core/ports/driven"
	"github.com/archon-labs/docbrain/internal/logger"
)

// Ensure Sink implements the interface.
var _ driven.EventSink = (*Sink)(nil)

// Sink emits events as flat key-value log lines.
type Sink struct{}

// New creates a new log-backed event sink.
func New() *Sink {
	return &Sink{}
}

// Emit writes the event to the verbose log. Fields are sorted by key so
// lines are stable across runs.
func (s *Sink) Emit(event string, fields map[string]any) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("event=")
	b.WriteString(event)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, fields[k])
	}
	logger.Info("%s", b.String())
}
