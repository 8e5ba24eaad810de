package app

import (
	"os"

	"service-dispatch/internal/config"
	"service-dispatch/internal/logx"
)

func newLogger(cfg *config.Config) logx.Logger {
	return logx.NewJSON(os.Stdout, cfg.LogLevel).With(logx.String("service", "service-dispatch"))
}
