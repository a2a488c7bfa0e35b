package worker

import (
	"log/slog"
	"os"
	"strings"
)

var workerDebugEnabled = strings.EqualFold(os.Getenv("CAMPUSWELL_WORKER_DEBUG"), "1")

// debugLog traces scheduling decisions when CAMPUSWELL_WORKER_DEBUG=1.
func debugLog(msg string, args ...any) {
	if workerDebugEnabled {
		slog.Info(msg, args...)
	}
}
