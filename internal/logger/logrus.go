package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogrus builds a configured logrus logger for components that take the
// logrus API directly, such as the discovery service. Level, format, and
// output follow the same configuration as the structured logger.
func NewLogrus(config Config) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if config.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var output io.Writer
	switch config.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			output = os.Stdout
		} else {
			output = file
		}
	}
	log.SetOutput(output)

	return log
}
