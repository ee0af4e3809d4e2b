package app

import (
	"log/slog"
	"os"
)

// NewLogger builds the process logger on stdout. LOG_FORMAT=json selects
// the machine-readable handler for deployed environments; any other
// value logs as text for local runs. Source locations are always
// attached so ledger and freeze mutations can be traced to a call site.
func NewLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	if cfg != nil && cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
