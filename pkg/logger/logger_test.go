package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerInit(t *testing.T) {
	if err := Init(); err != nil {
		t.Fatalf("failed to initialize text logger: %v", err)
	}
	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}

	if err := InitWith(Options{Format: "json"}); err != nil {
		t.Fatalf("failed to initialize json logger: %v", err)
	}
	if Get() == nil {
		t.Fatal("logger is nil after initialization")
	}

	if err := InitWith(Options{Format: "xml"}); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWith(Options{Format: "json", Output: &buf}); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { _ = Init() }()

	Named("orchestrator").
		With(String("pipeline_id", "p-1")).
		Info(context.Background(), "stage completed", String("stage", "analyze"), Error(errors.New("boom")))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if record["msg"] != "stage completed" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["component"] != "orchestrator" {
		t.Errorf("component = %v", record["component"])
	}
	if record["pipeline_id"] != "p-1" {
		t.Errorf("pipeline_id = %v", record["pipeline_id"])
	}
	if record["error"] != "boom" {
		t.Errorf("error = %v", record["error"])
	}
	source, _ := record["source"].(string)
	if !strings.Contains(source, "logger_test.go") {
		t.Errorf("source = %q, want caller file", source)
	}
}

func TestSetLevelString(t *testing.T) {
	var buf bytes.Buffer
	if err := InitWith(Options{Output: &buf}); err != nil {
		t.Fatalf("init: %v", err)
	}
	defer func() { _ = Init() }()

	if err := SetLevelString("warn"); err != nil {
		t.Fatalf("set level: %v", err)
	}
	Get().Info(context.Background(), "hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
	Get().Warn(context.Background(), "shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("warn not logged: %q", buf.String())
	}

	if err := SetLevelString("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	_ = SetLevelString("info")
}
