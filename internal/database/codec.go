package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/carmcp/codegraph-go/internal/apptype"
)

const timeLayout = time.RFC3339Nano

// marshalEmbedding serializes a vector to JSON text, or NULL for no
// embedding.
func marshalEmbedding(vec []float32) (any, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}
	return string(data), nil
}

// marshalProps serializes a property bag to JSON text, or NULL when empty.
func marshalProps(props apptype.Properties) (any, error) {
	if len(props) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal properties: %w", err)
	}
	return string(data), nil
}

// unmarshalEmbedding decodes a stored vector; malformed text is logged
// and treated as no embedding.
func unmarshalEmbedding(s sql.NullString) []float32 {
	if !s.Valid || s.String == "" {
		return nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(s.String), &vec); err != nil {
		slog.Warn("failed to decode stored embedding", "error", err)
		return nil
	}
	return vec
}

// unmarshalProps decodes a stored property bag; malformed text is logged
// and treated as empty.
func unmarshalProps(s sql.NullString) apptype.Properties {
	if !s.Valid || s.String == "" {
		return nil
	}
	var props apptype.Properties
	if err := json.Unmarshal([]byte(s.String), &props); err != nil {
		slog.Warn("failed to decode stored properties", "error", err)
		return nil
	}
	return props
}

// parseTime decodes a stored timestamp; malformed text is logged and
// yields the zero time rather than failing the read.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		slog.Warn("failed to parse stored timestamp", "value", s, "error", err)
		return time.Time{}
	}
	return t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
