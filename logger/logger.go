// Package logger configures the process-wide logrus logger.
package logger

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Init installs the text formatter and sets the level. An unknown level
// falls back to info and is reported.
func Init(level string) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
	})
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.SetLevel(logrus.InfoLevel)
		logrus.WithError(err).Warn("unknown log level, using info")
		return
	}
	logrus.SetLevel(lvl)
}

// ForConnection returns the entry every log line of one connection goes through.
func ForConnection(connID, role string) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{"conn": connID, "role": role})
}
