package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/dandantas/tabwatch/internal/testutil"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "debug", "json")
	logger.Debug("hello", "job_id", "job-1")

	var line map[string]interface{}
	testutil.AssertNotError(t, json.Unmarshal(buf.Bytes(), &line), "decoding log line")
	testutil.AssertEquals(t, line["msg"], "hello")
	testutil.AssertEquals(t, line["job_id"], "job-1")
}

func TestParseLevel(t *testing.T) {
	testutil.AssertEquals(t, parseLevel("WARNING"), slog.LevelWarn)
	testutil.AssertEquals(t, parseLevel("error"), slog.LevelError)
	testutil.AssertEquals(t, parseLevel("bogus"), slog.LevelInfo)
}
