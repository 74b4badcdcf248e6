package hooks

import (
	"runtime/debug"
	"strings"

	log "github.com/sirupsen/logrus"
)

// contextHook annotates every entry with the file:line of the logging call site.
type contextHook struct {
}

func NewContextHook() contextHook {
	return contextHook{}
}

func (hook contextHook) Levels() []log.Level {
	return log.AllLevels
}

func (hook contextHook) Fire(entry *log.Entry) error {
	if line := callSite(string(debug.Stack())); line != "" {
		entry.Data["file:line"] = line
	}
	return nil
}

// callSite finds the first source line below the logrus frames in a debug.Stack dump
// and trims it to a path relative to the module root.
func callSite(stack string) string {
	lines := strings.Split(stack, "\n")
	foundHook := false
	for i := 0; i < len(lines); i++ {
		l := lines[i]
		if !strings.HasPrefix(l, "\t") {
			continue
		}
		if strings.Contains(l, "context_hook.go:") {
			foundHook = true
			continue
		}
		if !foundHook || strings.Contains(l, "sirupsen/logrus") {
			continue
		}
		ctx := strings.Split(l, "hpcqueue/")
		loc := strings.TrimSpace(ctx[len(ctx)-1])
		// drop the trailing " +0x1f" pc offset
		if idx := strings.LastIndex(loc, " +0x"); idx > 0 {
			loc = loc[:idx]
		}
		return loc
	}
	return ""
}
