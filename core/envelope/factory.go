package envelope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Clock is the wall-clock source used when stamping envelopes.
// Injectable so tests can control time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock returns the real wall-clock source.
func SystemClock() Clock { return systemClock{} }

// FaultDetail carries serialized remote-failure information on faulted
// reply envelopes.
type FaultDetail struct {
	Message string `json:"message"`
}

// Factory builds envelopes for outbound messages and replies.
type Factory struct {
	clock           Clock
	applicationName string
	instanceName    string
	timeToLive      time.Duration
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithClock overrides the wall-clock source.
func WithClock(clock Clock) FactoryOption {
	return func(f *Factory) {
		if clock != nil {
			f.clock = clock
		}
	}
}

// WithTimeToLive sets the default ExpiresAfter stamped on new envelopes.
func WithTimeToLive(ttl time.Duration) FactoryOption {
	return func(f *Factory) {
		if ttl > 0 {
			f.timeToLive = ttl
		}
	}
}

// NewFactory creates an envelope factory. The application and instance
// names are stamped on every envelope so receivers can identify senders.
func NewFactory(applicationName, instanceName string, opts ...FactoryOption) *Factory {
	f := &Factory{
		clock:           systemClock{},
		applicationName: applicationName,
		instanceName:    instanceName,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Clock returns the factory's wall-clock source.
func (f *Factory) Clock() Clock { return f.clock }

// New builds an envelope for the given payload. The MessageID is generated
// exactly once here; replies carry it forward in CorrelationID.
func (f *Factory) New(messageName string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSerialization, messageName, err)
	}

	e := &Envelope{
		MessageID:       uuid.New().String(),
		Payload:         data,
		EnqueuedTimeUTC: f.clock.Now(),
		ExpiresAfter:    f.timeToLive,
		Properties: map[string]string{
			PropMessageType:           messageName,
			PropSenderApplicationName: f.applicationName,
			PropSenderInstanceName:    f.instanceName,
			PropDeliveryAttempt:       "0",
		},
	}
	return e, nil
}

// NewReply builds a reply envelope correlated to the given request.
func (f *Factory) NewReply(request *Envelope, messageName string, payload any) (*Envelope, error) {
	reply, err := f.New(messageName, payload)
	if err != nil {
		return nil, err
	}
	reply.CorrelationID = request.MessageID
	if request.ExpiresAfter > 0 {
		reply.ExpiresAfter = request.ExpiresAfter
	}
	return reply, nil
}

// NewFaultReply builds a reply envelope carrying the handler failure back
// to the requester. The payload is the serialized fault detail and the
// faulted marker property is set.
func (f *Factory) NewFaultReply(request *Envelope, cause error) (*Envelope, error) {
	reply, err := f.NewReply(request, request.MessageType(), FaultDetail{Message: cause.Error()})
	if err != nil {
		return nil, err
	}
	reply.Properties[PropFaulted] = "true"
	return reply, nil
}
