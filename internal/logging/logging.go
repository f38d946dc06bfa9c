package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init sends JSON lines to logPath and a human-readable copy to stdout. An
// empty logPath logs to the console only.
func Init(level zerolog.Level, logPath string) {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.DateTime}}

	if logPath != "" {
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			panic(fmt.Errorf("failed to open log file: %w", err))
		}
		writers = append(writers, logFile)
	}

	multi := zerolog.MultiLevelWriter(writers...)

	logger := zerolog.New(multi).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	// zerolog.Ctx falls back to the global logger for contexts without one
	zerolog.DefaultContextLogger = &log.Logger

	if level == zerolog.DebugLevel {
		log.Debug().Msg("Log level set to DEBUG")
	}
}

// Printf adapts the global logger to libraries that take a Printf-style
// logger.
type Printf struct{}

func (Printf) Printf(format string, args ...any) {
	log.Info().Msgf(format, args...)
}
