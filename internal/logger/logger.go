package logger

import (
	"github.com/go-chi/httplog"
	"github.com/marcelsud/webhook-dispatch/config"
	"github.com/rs/zerolog"
)

// ServiceName tags every log line
const ServiceName = "webhook-dispatch"

// New builds the service logger. Components derive their own with
// logger.With().Str("component", ...).
func New(cfg config.LogConfig) zerolog.Logger {
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	return httplog.NewLogger(ServiceName, httplog.Options{
		JSON:     cfg.JSON,
		Concise:  cfg.Concise,
		LogLevel: level,
	})
}
