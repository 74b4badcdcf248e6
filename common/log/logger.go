// Package log configures the process-wide logrus logger shared by the scheduler and worker binaries.
package log

import (
	"io"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/primerid/hpcqueue/common/log/hooks"
)

// Setup applies level (a logrus level name) and the standard formatter and hooks.
// An unparseable level falls back to info.
func Setup(level string, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}
	log.SetOutput(out)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.AddHook(hooks.NewContextHook())

	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.Warnf("unknown log level %q, using info", level)
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}
