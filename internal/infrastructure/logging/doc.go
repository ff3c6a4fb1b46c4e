// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for humans
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("engine ready", zap.String("template", tmpl.ID))
//	logger.Error("mount failed", zap.Error(err))
package logging
