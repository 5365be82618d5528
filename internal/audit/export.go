package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strconv"
	"time"
)

var csvHeader = []string{
	"partition", "sequence_id", "created_at", "actor_id", "actor_name",
	"module", "action", "description", "outcome_status", "error_message",
	"source_ip", "request_method", "request_target", "request_id",
	"request_params", "duration_ms", "hash",
}

// Exporter renders entries for download.
type Exporter struct{}

// NewExporter returns a CSV exporter.
func NewExporter() Exporter {
	return Exporter{}
}

// WriteCSV encodes entries with a header row. Params are embedded as JSON.
func (Exporter) WriteCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	for _, e := range entries {
		params := e.Params
		if params == nil {
			params = []Param{}
		}
		rawParams, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		record := []string{
			e.Partition,
			strconv.FormatInt(e.SequenceID, 10),
			e.CreatedAt.UTC().Format(time.RFC3339Nano),
			strconv.FormatInt(e.ActorID, 10),
			e.ActorName,
			e.Module,
			e.Action,
			e.Description,
			string(e.Outcome),
			e.ErrorMessage,
			e.SourceIP,
			e.RequestMethod,
			e.RequestTarget,
			e.RequestID,
			string(rawParams),
			strconv.FormatInt(e.Duration.Milliseconds(), 10),
			e.Hash,
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
