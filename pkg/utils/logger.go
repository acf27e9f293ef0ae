package utils

import "go.uber.org/zap"

// NewLogger returns a zap logger tagged with the service name. Debug mode uses the
// development config (console encoding, debug level, stack traces on warn); otherwise
// the production config (JSON, info level) without stack traces.
func NewLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.DisableStacktrace = !debug
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "vecpipe")), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
