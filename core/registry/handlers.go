package registry

import (
	"context"
	"fmt"
	"reflect"
)

// handlerFunc adapts a typed function to the Handler interface.
type handlerFunc[T any] struct {
	name string
	fn   func(context.Context, T) error
}

func (h *handlerFunc[T]) MessageName() string { return h.name }

func (h *handlerFunc[T]) Handle(ctx context.Context, payload any) error {
	msg, ok := payload.(T)
	if !ok {
		return fmt.Errorf("invalid payload type: expected %s, got %T", h.name, payload)
	}
	return h.fn(ctx, msg)
}

// requestHandlerFunc adapts a typed request function to RequestHandler.
type requestHandlerFunc[TReq, TResp any] struct {
	name string
	fn   func(context.Context, TReq) (TResp, error)
}

func (h *requestHandlerFunc[TReq, TResp]) MessageName() string { return h.name }

func (h *requestHandlerFunc[TReq, TResp]) Handle(ctx context.Context, payload any) error {
	_, err := h.HandleRequest(ctx, payload)
	return err
}

func (h *requestHandlerFunc[TReq, TResp]) HandleRequest(ctx context.Context, payload any) (any, error) {
	req, ok := payload.(TReq)
	if !ok {
		return nil, fmt.Errorf("invalid payload type: expected %s, got %T", h.name, payload)
	}
	return h.fn(ctx, req)
}

func entryFor[T any](shape Shape, factory Factory) Entry {
	var zero T
	return Entry{
		Shape:       shape,
		MessageName: MessageName(zero),
		PayloadType: reflect.TypeOf(zero),
		Factory:     factory,
	}
}

// NewCommandHandler registers a type-safe command handler. The message
// name is derived from T.
//
// Example:
//
//	r.Register(registry.NewCommandHandler(func(ctx context.Context, cmd PlaceOrder) error {
//	    return orders.Place(ctx, cmd)
//	}))
func NewCommandHandler[T any](fn func(context.Context, T) error) Entry {
	return entryFor[T](Command, instanceFactory[T](fn))
}

// NewCompetingEventHandler registers a handler that competes with other
// bus instances on a shared subscription: each event is delivered to
// exactly one instance.
func NewCompetingEventHandler[T any](fn func(context.Context, T) error) Entry {
	return entryFor[T](CompetingEvent, instanceFactory[T](fn))
}

// NewMulticastEventHandler registers a handler that receives every
// published event on an instance-local subscription.
func NewMulticastEventHandler[T any](fn func(context.Context, T) error) Entry {
	return entryFor[T](MulticastEvent, instanceFactory[T](fn))
}

func instanceFactory[T any](fn func(context.Context, T) error) Factory {
	var zero T
	name := MessageName(zero)
	return func(Scope) (Handler, error) {
		return &handlerFunc[T]{name: name, fn: fn}, nil
	}
}

// NewRequestHandler registers a type-safe request handler producing a
// response of type TResp. Exactly one request handler may be registered
// per request type.
//
// Example:
//
//	r.Register(registry.NewRequestHandler(func(ctx context.Context, req Ping) (Pong, error) {
//	    return Pong{}, nil
//	}))
func NewRequestHandler[TReq, TResp any](fn func(context.Context, TReq) (TResp, error)) Entry {
	var zero TReq
	name := MessageName(zero)
	return Entry{
		Shape:       Request,
		MessageName: name,
		PayloadType: reflect.TypeOf(zero),
		Factory: func(Scope) (Handler, error) {
			return &requestHandlerFunc[TReq, TResp]{name: name, fn: fn}, nil
		},
	}
}

// NewMulticastRequestHandler registers a handler whose response joins the
// stream of replies collected by the requester until its timeout closes.
func NewMulticastRequestHandler[TReq, TResp any](fn func(context.Context, TReq) (TResp, error)) Entry {
	var zero TReq
	name := MessageName(zero)
	return Entry{
		Shape:       MulticastRequest,
		MessageName: name,
		PayloadType: reflect.TypeOf(zero),
		Factory: func(Scope) (Handler, error) {
			return &requestHandlerFunc[TReq, TResp]{name: name, fn: fn}, nil
		},
	}
}

// NewScopedHandler registers a handler built from the dispatch scope on
// every delivery. Use it when the handler needs per-dispatch dependencies.
//
// Example:
//
//	r.Register(registry.NewScopedHandler[PlaceOrder](registry.Command,
//	    func(scope registry.Scope) (registry.Handler, error) {
//	        repo, err := scope.Resolve("orders")
//	        if err != nil {
//	            return nil, err
//	        }
//	        return NewPlaceOrderHandler(repo.(*OrderRepo)), nil
//	    }))
func NewScopedHandler[T any](shape Shape, factory Factory) Entry {
	return entryFor[T](shape, factory)
}
