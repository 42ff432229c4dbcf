package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestSetup_ReturnsJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, "info")

	if l == nil {
		t.Fatal("expected non-nil logger")
	}

	l.Info("test message", slog.String("key", "value"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON log output, got error: %v\nraw output: %s", err, buf.String())
	}

	if entry["msg"] != "test message" {
		t.Errorf("msg = %q, want %q", entry["msg"], "test message")
	}
	if entry["key"] != "value" {
		t.Errorf("key = %q, want %q", entry["key"], "value")
	}
	if _, ok := entry["time"]; !ok {
		t.Error("expected 'time' field in JSON log output")
	}
}

func TestSetup_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantLines int
	}{
		{name: "debugは全て出力", level: "debug", wantLines: 3},
		{name: "infoはdebugを除外", level: "info", wantLines: 2},
		{name: "warnはwarnのみ", level: "WARN", wantLines: 1},
		{name: "不明な値はinfo扱い", level: "verbose", wantLines: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := Setup(&buf, tt.level)
			l.Debug("d")
			l.Info("i")
			l.Warn("w")

			lines := bytes.Count(buf.Bytes(), []byte("\n"))
			if lines != tt.wantLines {
				t.Errorf("got %d lines, want %d\n%s", lines, tt.wantLines, buf.String())
			}
		})
	}
}

func TestSetup_SessionAttributes(t *testing.T) {
	var buf bytes.Buffer
	l := Setup(&buf, "info")

	l.Info("login completed",
		slog.String("principal", "2vxsx-fae"),
		slog.Uint64("generation", 3),
		slog.String("method", "get_user_data"),
	)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v", err)
	}

	if entry["principal"] != "2vxsx-fae" {
		t.Errorf("principal = %q, want %q", entry["principal"], "2vxsx-fae")
	}
	if entry["generation"] != float64(3) {
		t.Errorf("generation = %v, want 3", entry["generation"])
	}
	if entry["method"] != "get_user_data" {
		t.Errorf("method = %q, want %q", entry["method"], "get_user_data")
	}
}

func TestSetupDefault_SetsGlobalLogger(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	SetupDefault(&buf, "info")

	slog.Default().Info("global test", slog.String("test_key", "test_val"))

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse JSON: %v\nraw: %s", err, buf.String())
	}

	if entry["msg"] != "global test" {
		t.Errorf("msg = %q, want %q", entry["msg"], "global test")
	}
	if entry["test_key"] != "test_val" {
		t.Errorf("test_key = %q, want %q", entry["test_key"], "test_val")
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing should happen")
}
