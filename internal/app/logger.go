package app

import (
	"strings"

	"github.com/charlesng35/walletrecovery/pkg/logger"
)

// ConfigureLogging initialises the global logger, defaulting to info.
func ConfigureLogging(level string, file LogFileConfig) error {
	level = strings.TrimSpace(level)
	if level == "" {
		level = "info"
	}
	return logger.Init(logger.Options{
		Level:      level,
		FilePath:   file.Path,
		MaxSizeMB:  file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAgeDays: file.MaxAgeDays,
		Compress:   file.Compress,
	})
}
