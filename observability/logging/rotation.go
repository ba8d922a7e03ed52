package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig configures the on-disk log file SetupWithRotation writes to in
// addition to stdout. A zero value disables file rotation.
type RotationConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// SetupWithRotation behaves like Setup but additionally tees structured
// log output through a size- and age-rotated file, for operators running
// the canister's off-chain mirror process outside of IC's own log
// retention.
func SetupWithRotation(service, env string, rotation RotationConfig) *slog.Logger {
	var writer io.Writer = os.Stdout
	if strings.TrimSpace(rotation.Path) != "" {
		writer = io.MultiWriter(os.Stdout, &lumberjack.Logger{
			Filename:   rotation.Path,
			MaxSize:    nonZero(rotation.MaxSizeMB, 100),
			MaxBackups: nonZero(rotation.MaxBackups, 5),
			MaxAge:     nonZero(rotation.MaxAgeDays, 28),
			Compress:   rotation.Compress,
		})
	}
	return setup(service, env, writer)
}

func nonZero(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
