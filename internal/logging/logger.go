package logging

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Two singletons: the general logger for CLI and supporting packages, and a
// dedicated scheduler logger whose records are keyed so scheduling decisions
// can be filtered out of a combined stream.

var logger *logrus.Logger
var schedulerLogger *logrus.Logger

func init() {
	logger = logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	logger.SetLevel(defaultLevel())

	schedulerLogger = logrus.New()
	schedulerLogger.SetOutput(os.Stdout)
	schedulerLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
		PadLevelText:    true,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "sched_event",
		},
	})
	schedulerLogger.SetLevel(defaultLevel())
}

// defaultLevel reads ACCEL_SCHED_LOG_LEVEL so one-off debug runs do not need
// a flag or config edit. Unset or unparsable values fall back to info.
func defaultLevel() logrus.Level {
	if v := os.Getenv("ACCEL_SCHED_LOG_LEVEL"); v != "" {
		if level, err := logrus.ParseLevel(v); err == nil {
			return level
		}
	}
	return logrus.InfoLevel
}

func GetLogger() *logrus.Logger {
	return logger
}

func GetSchedulerLogger() *logrus.Logger {
	return schedulerLogger
}

func SetLogLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(parsed)
	return nil
}

func SetSchedulerLogLevel(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	schedulerLogger.SetLevel(parsed)
	return nil
}
