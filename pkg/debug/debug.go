// Package debug provides category-based debug logging for simplecrm.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): controlled via SIMPLECRM_DEBUG env or config
//   - Levels (HOW MUCH detail): controlled via SIMPLECRM_LOG_LEVEL env or config
//
// Usage:
//
//	debug.Log("tenant", "cache miss", "subject", subject, "tenant", tenantID)
//	if debug.Enabled("chat") { /* expensive formatting */ }
//
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
)

// LevelTrace is below slog.LevelDebug for maximum verbosity.
// At TRACE, chat payloads are logged (truncated).
const LevelTrace = slog.LevelDebug - 4

// KnownCategories lists the categories emitted by simplecrm packages.
// "all" enables every category.
var KnownCategories = []string{"auth", "tenant", "authz", "chat", "relay", "storage", "transport", "config"}

// categories holds the set of enabled debug categories.
// Access is read-only after Init(), so no synchronization needed.
var categories map[string]bool

func init() {
	// Initialize from environment for immediate availability.
	// Can be re-initialized later via Init() with config values.
	categories = parseCategories(os.Getenv("SIMPLECRM_DEBUG"))
}

// Settings configures the process-wide logger.
type Settings struct {
	// Categories is a comma-separated category list.
	Categories string

	// Level is one of TRACE, DEBUG, INFO, WARN, ERROR.
	Level string

	// Format selects the slog handler: "text" (default) or "json".
	Format string

	// Output defaults to os.Stderr.
	Output io.Writer
}

// Init configures the debug system and installs the default slog logger.
// Environment overrides the given settings. It returns the requested
// categories that no package emits, so the caller can warn about typos.
func Init(s Settings) []string {
	cats := os.Getenv("SIMPLECRM_DEBUG")
	if cats == "" {
		cats = s.Categories
	}
	categories = parseCategories(cats)

	level := os.Getenv("SIMPLECRM_LOG_LEVEL")
	if level == "" {
		level = s.Level
	}

	out := s.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(s.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	slog.SetDefault(slog.New(handler))

	var unknown []string
	for cat := range categories {
		if cat != "all" && !slices.Contains(KnownCategories, cat) {
			unknown = append(unknown, cat)
		}
	}
	slices.Sort(unknown)
	return unknown
}

// Enabled reports whether debug output is active for the given category.
func Enabled(category string) bool {
	return categories["all"] || categories[category]
}

// Log emits a debug message for the given category.
// If the category is not enabled, this is a no-op.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a trace-level message for the given category.
// Only visible when SIMPLECRM_LOG_LEVEL=TRACE.
func Trace(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(nil, LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// ParseLevel converts a level string to a slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "INFO", "":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Categories returns the sorted list of enabled categories.
func Categories() []string {
	var result []string
	for k := range categories {
		result = append(result, k)
	}
	slices.Sort(result)
	return result
}

// Truncate returns s truncated to maxLen characters, with "..." appended if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	if s == "" {
		return m
	}
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
