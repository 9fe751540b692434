// Package logging provides the ports.Logger sinks: ConsoleLogger for text or
// JSON transition records and NopLogger for silent runs.
package logging

import (
	"context"

	"github.com/felixgeelhaar/provisioner/internal/ports"
)

// NopLogger discards every entry.
type NopLogger struct{}

// NewNopLogger creates a new no-op logger.
func NewNopLogger() NopLogger {
	return NopLogger{}
}

func (NopLogger) Debug(context.Context, string, ...ports.Field) {}
func (NopLogger) Info(context.Context, string, ...ports.Field)  {}
func (NopLogger) Warn(context.Context, string, ...ports.Field)  {}
func (NopLogger) Error(context.Context, string, ...ports.Field) {}

// With returns the logger unchanged.
func (l NopLogger) With(...ports.Field) ports.Logger { return l }

var _ ports.Logger = NopLogger{}
