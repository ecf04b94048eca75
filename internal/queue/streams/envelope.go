package streams

import (
	"encoding/json"
	"fmt"
	"time"
)

// Stream names used by the ingestion queue.
const (
	// StreamFileUpload carries ingestion submissions from the API server to
	// the worker pool.
	StreamFileUpload = "fileupload"
	// StreamFileUploadDead receives jobs that exhausted their retries or
	// failed permanently.
	StreamFileUploadDead = "fileupload.dead"

	// EventFileUploaded is the event type of ingestion submissions.
	EventFileUploaded = "file.uploaded"
)

// FileUploadPayload is the v1 payload of EventFileUploaded messages.
type FileUploadPayload struct {
	DocumentID  string `json:"document_id"`
	Filename    string `json:"filename"`
	Destination string `json:"destination"`
	Path        string `json:"path"`
	SizeBytes   int64  `json:"size_bytes"`
}

// Envelope is the canonical message wrapper persisted to Redis Streams.
// Attempt counts deliveries of the same logical job: retries re-publish the
// envelope with Attempt incremented.
type Envelope struct {
	EventID        string          `json:"event_id"`
	EventType      string          `json:"event_type"`
	OccurredAt     time.Time       `json:"occurred_at"`
	Attempt        int             `json:"attempt"`
	PayloadVersion string          `json:"payload_version"`
	Data           json.RawMessage `json:"data"`
}

// ValidateBasic ensures mandatory envelope fields are present.
func (e *Envelope) ValidateBasic() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.PayloadVersion == "" {
		return fmt.Errorf("payload_version is required")
	}
	if e.Attempt < 0 {
		return fmt.Errorf("attempt must be >= 0")
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if len(e.Data) == 0 {
		return fmt.Errorf("data payload is required")
	}
	return nil
}

// Marshal returns the JSON encoding of the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	if err := e.ValidateBasic(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// UnmarshalEnvelope parses JSON bytes into an Envelope and validates
// required fields.
func UnmarshalEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return env, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if err := env.ValidateBasic(); err != nil {
		return env, err
	}
	return env, nil
}
