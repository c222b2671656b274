// Package events carries host events over the wire and dispatches them to
// in-process listeners.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	sdkerrors "github.com/wehubfusion/Daedalus/pkg/errors"
	"github.com/wehubfusion/Daedalus/pkg/host"
)

// DatasetRowProcessed is emitted by the dataset batch node after each row
const DatasetRowProcessed = "dataset_row_processed"

// Envelope is the wire shape of a host event: {"type": ..., "data": ...}.
// The ComfyUI websocket uses it and so does the NATS bridge.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RowProcessed is the detail of a DatasetRowProcessed event
type RowProcessed struct {
	NodeID      string `json:"node_id"`
	MagicNumber int    `json:"magic_number"`
	RowIndex    int    `json:"row_index"`
}

// DecodeEnvelope parses an envelope. A body without a type is rejected.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("failed to decode event envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, sdkerrors.NewError("INVALID_ENVELOPE", "event envelope has no type", nil)
	}
	return env, nil
}

// Event converts the envelope into a host event received now
func (e Envelope) Event() host.Event {
	return host.NewEvent(e.Type, e.Data)
}

// EnvelopeFor builds the envelope of a host event
func EnvelopeFor(evt host.Event) Envelope {
	return Envelope{Type: evt.Name, Data: evt.Detail}
}

// NewRowProcessedEvent marshals a RowProcessed detail into a host event
func NewRowProcessedEvent(detail RowProcessed) (host.Event, error) {
	data, err := json.Marshal(detail)
	if err != nil {
		return host.Event{}, fmt.Errorf("failed to marshal row processed detail: %w", err)
	}
	return host.Event{Name: DatasetRowProcessed, Detail: data, ReceivedAt: time.Now()}, nil
}
