// Package obs carries the service's observability plumbing: the shared
// line-oriented JSON logger that the access log and the audit trail both
// write through, plus the prometheus metrics for HTTP traffic and the
// session/entitlement domain.
package obs

import (
	"encoding/json"
	"log"
	"os"
	"sync"
)

var (
	loggerOnce sync.Once
	logger     *log.Logger
)

// Logger returns the process-wide logger. One JSON object per line on
// stdout, no prefix, no flags; collectors treat anything else as garbage.
// Tests may redirect it with SetOutput.
func Logger() *log.Logger {
	loggerOnce.Do(func() {
		logger = log.New(os.Stdout, "", 0)
	})
	return logger
}

// LogRequest writes one structured entry. Fields come in as a map so every
// call site names exactly what it has; encoding/json keeps the key order
// stable for diffing.
func LogRequest(entry map[string]any) {
	data, err := json.Marshal(entry)
	if err != nil {
		Logger().Println(`{"level":"error","msg":"log entry not serializable"}`)
		return
	}
	Logger().Println(string(data))
}
