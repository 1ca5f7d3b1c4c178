package httpapi

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLogger_FiltersByLevelAndTagsService(t *testing.T) {
	var buf bytes.Buffer
	log := NewLogger(&buf, zerolog.WarnLevel)

	log.Info().Msg("dropped")
	log.Warn().Str("hostname", "cam").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d: %q", len(lines), buf.String())
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if entry["service"] != "hostbridge" || entry["level"] != "warn" || entry["message"] != "kept" || entry["time"] == nil {
		t.Fatalf("unexpected log entry %v", entry)
	}
}
