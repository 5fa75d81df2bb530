package envelope

import (
	"encoding/json"
	"strconv"
	"time"
)

// Wire property keys. These appear verbatim on every envelope crossing the
// wire and are shared with non-Go peers, so they are never renamed.
const (
	PropMessageType           = "Nimbus.MessageType"
	PropSenderApplicationName = "Nimbus.SenderApplicationName"
	PropSenderInstanceName    = "Nimbus.SenderInstanceName"
	PropDeliveryAttempt       = "Nimbus.DeliveryAttempt"
	PropFaulted               = "Nimbus.Faulted"
)

// Envelope is the transport-level wrapper around a user payload.
// It is immutable after construction except for delivery bookkeeping
// performed by transport drivers on redelivery.
type Envelope struct {
	MessageID       string            `json:"message_id"`
	CorrelationID   string            `json:"correlation_id,omitempty"`
	ReplyTo         string            `json:"reply_to,omitempty"`
	Payload         json.RawMessage   `json:"payload,omitempty"`
	Properties      map[string]string `json:"properties"`
	EnqueuedTimeUTC time.Time         `json:"enqueued_time_utc"`
	ExpiresAfter    time.Duration     `json:"expires_after,omitempty"`
	DeliveryAttempt int               `json:"delivery_attempt"`
}

// MessageType returns the canonical type name of the payload as stamped
// by the sender.
func (e *Envelope) MessageType() string {
	return e.Properties[PropMessageType]
}

// Faulted reports whether the envelope carries a remote-failure marker.
// Only reply envelopes set this.
func (e *Envelope) Faulted() bool {
	_, ok := e.Properties[PropFaulted]
	return ok
}

// SetDeliveryAttempt updates the delivery counter and keeps the wire
// property in sync. Called by transport drivers on redelivery.
func (e *Envelope) SetDeliveryAttempt(attempt int) {
	e.DeliveryAttempt = attempt
	e.Properties[PropDeliveryAttempt] = strconv.Itoa(attempt)
}

// Clone returns a deep copy. Transports use it for topic fan-out so each
// subscription owns its delivery bookkeeping.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	clone.Properties = make(map[string]string, len(e.Properties))
	for k, v := range e.Properties {
		clone.Properties[k] = v
	}
	if e.Payload != nil {
		clone.Payload = make(json.RawMessage, len(e.Payload))
		copy(clone.Payload, e.Payload)
	}
	return &clone
}

// Marshal serializes the envelope to its transport form.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal deserializes an envelope from its transport form.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	if e.Properties == nil {
		e.Properties = make(map[string]string)
	}
	return &e, nil
}
