// Package rtlog provides vtrt's structured, per-node logging: a component
// logger is bound once with node and component fields and the
// *logrus.Entry is passed around, rather than calling the package-level
// logger from every site.
package rtlog

import (
	"github.com/sirupsen/logrus"

	"github.com/dreamware/vtrt/internal/config"
	"github.com/dreamware/vtrt/internal/rt"
)

// For returns a logger with "node" and "component" fields pre-bound.
func For(node rt.NodeType, component string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"node":      node.String(),
		"component": component,
	})
}

// Trace logs at trace level, but only if the named VT_DEBUG_* flag is
// currently enabled, so a disabled trace flag costs nothing on a hot
// send/dispatch path.
func Trace(e *logrus.Entry, flag config.DebugFlag, format string, args ...any) {
	if !config.Enabled(flag) {
		return
	}
	e.Tracef(format, args...)
}
