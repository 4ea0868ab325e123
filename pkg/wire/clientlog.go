package wire

// ClientLogRecord is one diagnostic record shipped to the backend over the
// client-log topic. Records travel in JSON batches.
type ClientLogRecord struct {
	Schema  string         `json:"schema"`
	Level   string         `json:"level,omitempty"`
	Message string         `json:"message"`
	TsMs    int64          `json:"ts,omitempty"`
	Logger  string         `json:"logger,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}
