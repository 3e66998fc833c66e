// Package logging builds the process-wide structured logger used by every
// long-lived component of the control plane.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logrus.Logger writing to stdout, and additionally to
// logFilePath if it is non-empty (mirroring the teacher's own dual
// file+stdout sink, through an io.MultiWriter set as the logger's output).
func New(levelName string, logFilePath string) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var out io.Writer = os.Stdout
	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stdout, f)
	}
	logger.SetOutput(out)

	return logger, nil
}
