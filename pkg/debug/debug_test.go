package debug

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseCategories(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  map[string]bool
	}{
		{"empty", "", map[string]bool{}},
		{"single", "tenant", map[string]bool{"tenant": true}},
		{"multiple", "tenant,chat", map[string]bool{"tenant": true, "chat": true}},
		{"all", "all", map[string]bool{"all": true}},
		{"with spaces", " tenant , chat ", map[string]bool{"tenant": true, "chat": true}},
		{"uppercase normalized", "TENANT,Chat", map[string]bool{"tenant": true, "chat": true}},
		{"empty segments", "tenant,,chat", map[string]bool{"tenant": true, "chat": true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseCategories(tt.input)
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("got[%q] = %v, want %v", k, got[k], v)
				}
			}
			if len(got) != len(tt.want) {
				t.Errorf("len(got) = %d, want %d", len(got), len(tt.want))
			}
		})
	}
}

func TestEnabled(t *testing.T) {
	// Save and restore.
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("tenant,chat")

	if !Enabled("tenant") {
		t.Error("tenant should be enabled")
	}
	if !Enabled("chat") {
		t.Error("chat should be enabled")
	}
	if Enabled("relay") {
		t.Error("relay should not be enabled")
	}
	if Enabled("all") {
		t.Error("all should not be enabled (not in categories)")
	}
}

func TestEnabled_All(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("all")

	if !Enabled("tenant") {
		t.Error("tenant should be enabled via 'all'")
	}
	if !Enabled("chat") {
		t.Error("chat should be enabled via 'all'")
	}
	if !Enabled("anything") {
		t.Error("anything should be enabled via 'all'")
	}
}

func TestEnabled_Empty(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("")

	if Enabled("tenant") {
		t.Error("nothing should be enabled when no categories set")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"TRACE", LevelTrace},
		{"trace", LevelTrace},
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"WARN", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"unknown", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate short = %q, want %q", got, "short")
	}
	if got := Truncate("this is a long string", 10); got != "this is a ..." {
		t.Errorf("Truncate long = %q, want %q", got, "this is a ...")
	}
}

func TestLog_DisabledCategory(t *testing.T) {
	orig := categories
	defer func() { categories = orig }()

	categories = parseCategories("")

	// Should not panic or produce output.
	Log("tenant", "test message", "key", "value")
	Trace("tenant", "trace message", "key", "value")
}

func TestInit_JSONFormatAndUnknownCategories(t *testing.T) {
	t.Setenv("SIMPLECRM_DEBUG", "")
	t.Setenv("SIMPLECRM_LOG_LEVEL", "")

	origCats := categories
	origLogger := slog.Default()
	defer func() {
		categories = origCats
		slog.SetDefault(origLogger)
	}()

	var buf bytes.Buffer
	unknown := Init(Settings{Categories: "tenant,chat,bogus", Level: "DEBUG", Format: "json", Output: &buf})

	if len(unknown) != 1 || unknown[0] != "bogus" {
		t.Errorf("unknown = %v, want [bogus]", unknown)
	}

	Log("tenant", "cache miss", "subject", "u1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected one JSON log line, got %q: %v", buf.String(), err)
	}
	if entry["debug"] != "tenant" || entry["subject"] != "u1" {
		t.Errorf("entry = %v, want debug=tenant subject=u1", entry)
	}
}

func TestInit_EnvOverridesSettings(t *testing.T) {
	t.Setenv("SIMPLECRM_DEBUG", "chat")
	t.Setenv("SIMPLECRM_LOG_LEVEL", "ERROR")

	origCats := categories
	origLogger := slog.Default()
	defer func() {
		categories = origCats
		slog.SetDefault(origLogger)
	}()

	var buf bytes.Buffer
	Init(Settings{Categories: "tenant", Level: "DEBUG", Output: &buf})

	if Enabled("tenant") || !Enabled("chat") {
		t.Errorf("categories = %v, want only chat", Categories())
	}

	Log("chat", "should be filtered by level")
	if buf.Len() != 0 {
		t.Errorf("expected no output at ERROR level, got %q", buf.String())
	}
}
