// Package logging constructs the structured logger every component takes
// as a constructor argument, per spec.md §9 ("a structured logger should
// be passed through constructors, not pulled from module state").
package logging

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// New builds a *logrus.Logger from the given level ("debug", "info",
// "warn", "error"; defaults to info on an unknown value) and format
// ("json" or "text"; defaults to text).
func New(level, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	lvl, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if strings.ToLower(format) == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return log
}
