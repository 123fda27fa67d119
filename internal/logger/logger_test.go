package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func resetDefault() {
	SetVerbose(false)
	SetOutput(os.Stderr)
}

func TestSetVerbose(t *testing.T) {
	defer resetDefault()

	SetVerbose(false)
	if IsVerbose() {
		t.Error("expected verbose to be false initially")
	}

	SetVerbose(true)
	if !IsVerbose() {
		t.Error("expected verbose to be true after SetVerbose(true)")
	}

	SetVerbose(false)
	if IsVerbose() {
		t.Error("expected verbose to be false after SetVerbose(false)")
	}
}

func TestDebug_WhenVerbose(t *testing.T) {
	defer resetDefault()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(true)

	Debug("test message %s", "arg")

	if !strings.Contains(buf.String(), "test message arg") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestDebug_WhenNotVerbose(t *testing.T) {
	defer resetDefault()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(false)

	Debug("test message")

	if buf.Len() > 0 {
		t.Error("expected no output when verbose is disabled")
	}
}

func TestSection(t *testing.T) {
	defer resetDefault()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(true)

	Section("Full Sync")

	if !strings.Contains(buf.String(), "=== Full Sync ===") {
		t.Errorf("unexpected section output: %q", buf.String())
	}
}

func TestInfoAndWarn(t *testing.T) {
	defer resetDefault()

	var buf bytes.Buffer
	SetOutput(&buf)

	Info("info message %d", 42)
	Warn("warning message")

	out := buf.String()
	if !strings.Contains(out, "level=info") || !strings.Contains(out, "info message 42") {
		t.Errorf("unexpected info output: %q", out)
	}
	if !strings.Contains(out, "level=warning") || !strings.Contains(out, "warning message") {
		t.Errorf("unexpected warn output: %q", out)
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Format: "json", Output: &buf})

	l.WithField(FieldSourceID, "src-1").Infof("synced %d files", 3)

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	if entry["message"] != "synced 3 files" {
		t.Errorf("unexpected message: %v", entry["message"])
	}
	if entry[FieldSourceID] != "src-1" {
		t.Errorf("missing source_id field: %v", entry)
	}
	if entry["level"] != "info" {
		t.Errorf("unexpected level: %v", entry["level"])
	}
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "chatty", Output: &buf})

	l.Debug("hidden")
	if buf.Len() > 0 {
		t.Errorf("expected debug to be filtered, got %q", buf.String())
	}
}

func TestContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: "info", Format: "json", Output: &buf})

	ctx := base.WithContext(context.Background())
	ctx = WithFields(ctx, Fields{FieldRequestID: "req-1", FieldComponent: "webhook"})
	ctx = WithField(ctx, FieldJobID, "job-9")

	if got := GetRequestID(ctx); got != "req-1" {
		t.Errorf("GetRequestID = %q", got)
	}
	if v, ok := GetField(ctx, FieldJobID); !ok || v != "job-9" {
		t.Errorf("GetField(job_id) = %v, %v", v, ok)
	}

	CtxWarn(ctx, "slow delivery")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not json: %v", err)
	}
	if entry[FieldComponent] != "webhook" || entry[FieldJobID] != "job-9" {
		t.Errorf("context fields missing: %v", entry)
	}
}

func TestFromContext_Default(t *testing.T) {
	if FromContext(context.Background()) != Default() {
		t.Error("expected default logger for bare context")
	}
	//nolint:staticcheck // nil context is handled
	if FromContext(nil) != Default() {
		t.Error("expected default logger for nil context")
	}
}

func TestConcurrentAccess(t *testing.T) {
	defer resetDefault()

	var buf bytes.Buffer
	SetOutput(&buf)

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			SetVerbose(true)
			Debug("concurrent %d", i)
			IsVerbose()
			SetVerbose(false)
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
