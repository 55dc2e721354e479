package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init installs the global logger. Output goes to stdout (captured by journald)
// and, when path is set, is appended to that file as well.
func Init(level zerolog.Level, path string) {
	writers := []io.Writer{os.Stdout}
	if path != "" {
		logFile, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			panic(fmt.Errorf("failed to open log file: %w", err))
		}
		writers = append(writers, logFile)
	}

	log.Logger = New(level, writers...)

	if level == zerolog.DebugLevel {
		log.Debug().Msg("Log level set to DEBUG")
	}
}

func New(level zerolog.Level, writers ...io.Writer) zerolog.Logger {
	multi := zerolog.MultiLevelWriter(writers...)
	return zerolog.New(multi).Level(level).With().Timestamp().Logger()
}
