package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// writeJSON encodes v with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// sum adds per-walker counters
func sum(xs []int) int {
	var s int
	for _, x := range xs {
		s += x
	}
	return s
}

func stepsPerSecond(steps int, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(steps) / elapsed.Seconds()
}
