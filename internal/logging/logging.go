// Package logging centralizes logger construction and the verbosity levels
// used across the controller. All packages log through logr.Logger obtained
// from ctrl.LoggerFrom(ctx); only main and test suites construct loggers.
package logging

import (
	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	crzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

// Verbosity levels for logger.V(...) calls. INFO-level messages use the
// bare logger; per-resource and per-tick chatter goes to DEBUG so that a
// production deployment at the default level stays quiet between events.
const (
	DEBUG = 1
	TRACE = 2
)

// NewLogger builds a zap-backed logr.Logger. Verbosity enables all V(n)
// logs with n <= verbosity. devMode switches to the human-readable console
// encoder with colored levels.
func NewLogger(verbosity int, devMode bool) logr.Logger {
	return crzap.New(
		crzap.UseDevMode(devMode),
		crzap.Level(zapcore.Level(-verbosity)),
	)
}

// NewTestLogger installs a development-mode logger at TRACE verbosity as the
// controller-runtime global, so test suites see all controller output.
func NewTestLogger() {
	ctrl.SetLogger(NewLogger(TRACE, true))
}
