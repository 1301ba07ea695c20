package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
)

// DebeziumAccountRecord is the subset of an accounts row the engine reads
// from a Debezium CDC event.
type DebeziumAccountRecord struct {
	ID string `json:"id"`
	// DeletedAt is kept raw because Debezium renders timestamps either as
	// ISO strings or as epoch integers depending on the column type.
	DeletedAt json.RawMessage `json:"deleted_at,omitempty"`
}

// SoftDeleted reports whether the row carries a non-null deleted_at.
func (r *DebeziumAccountRecord) SoftDeleted() bool {
	if r == nil {
		return false
	}
	v := bytes.TrimSpace(r.DeletedAt)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}

// DebeziumPayload is the payload field of a Debezium CDC message.
type DebeziumPayload struct {
	Before *DebeziumAccountRecord `json:"before"`
	After  *DebeziumAccountRecord `json:"after"`
	Op     string                 `json:"op"` // "c"=create, "u"=update, "d"=delete, "r"=snapshot
	TsMs   int64                  `json:"ts_ms"`
}

// DebeziumMessage is the top-level Debezium CDC message envelope.
type DebeziumMessage struct {
	Payload DebeziumPayload `json:"payload"`
}

// ErrTombstone is returned for the null-valued record Debezium emits after a
// delete so log compaction can drop the key. It carries no event.
var ErrTombstone = errors.New("debezium tombstone")

// DecodeMessage parses a CDC record value. It accepts both the schema
// envelope and the bare payload produced with schemas disabled.
func DecodeMessage(data []byte) (*DebeziumMessage, error) {
	if trimmed := bytes.TrimSpace(data); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrTombstone
	}
	var event DebeziumMessage
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	if event.Payload.Op != "" {
		return &event, nil
	}
	if err := json.Unmarshal(data, &event.Payload); err != nil {
		return nil, err
	}
	return &event, nil
}

// AccountEventHandler processes a decoded accounts-table CDC message.
type AccountEventHandler interface {
	HandleAccountEvent(ctx context.Context, event *DebeziumMessage) error
}

// AccountEventConsumer manages the Kafka consumer lifecycle.
type AccountEventConsumer interface {
	Start(ctx context.Context) error
	Close() error
}
