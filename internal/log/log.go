// Package log provides structured key-value logging for changerd.
package log

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var logger = logrus.New()

// Configure sets the global log level and output format.
// level is one of trace, debug, info, warn, error; format is console or json.
func Configure(level, format string) {
	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	logger.SetOutput(os.Stderr)

	switch strings.ToLower(format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	default:
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

// fields converts alternating key-value pairs into logrus fields.
func fields(kv []any) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kv[i])
		}
		f[key] = kv[i+1]
	}
	if len(kv)%2 == 1 {
		f["extra"] = kv[len(kv)-1]
	}
	return f
}

func Debug(msg string, kv ...any) { logger.WithFields(fields(kv)).Debug(msg) }

func Info(msg string, kv ...any) { logger.WithFields(fields(kv)).Info(msg) }

func Warn(msg string, kv ...any) { logger.WithFields(fields(kv)).Warn(msg) }

func Error(msg string, kv ...any) { logger.WithFields(fields(kv)).Error(msg) }
