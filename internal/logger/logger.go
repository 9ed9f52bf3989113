package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the process-wide logger. It discards everything until Init runs.
var Log = zerolog.Nop()

// Init writes to both stdout and a size-rotated file under logDir.
func Init(logDir, level string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(logDir, "askdb.log"),
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}

	multiWriter := io.MultiWriter(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "2006-01-02 15:04:05"}, logFile)
	Log = zerolog.New(multiWriter).Level(lvl).With().Timestamp().Logger()
	return nil
}

func Info() *zerolog.Event {
	return Log.Info()
}

func Error() *zerolog.Event {
	return Log.Error()
}

// Component returns a child logger tagged with the component name.
func Component(name string) zerolog.Logger {
	return Log.With().Str("component", name).Logger()
}
