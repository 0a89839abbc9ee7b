package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// SetupLogging configures the global logrus logger.  Production emits JSON
// lines; other environments use the text formatter with full timestamps.
// An unknown LOG_LEVEL falls back to info.
func SetupLogging(c Config) {
	logrus.SetOutput(os.Stdout)
	if c.IsProd() {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		logrus.Warnf("unknown LOG_LEVEL %q, using info", c.LogLevel)
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}
