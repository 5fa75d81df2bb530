// Package bus is the user-facing facade of the message-bus runtime. It
// mediates four interaction patterns over a queue/topic transport:
//
//   - Commands: fire-and-forget, consumed by a single handler on a queue.
//   - Competing events: published to a topic, load-balanced across bus
//     instances that share an application-named subscription.
//   - Multicast events: published to a topic, delivered to every
//     instance through instance-named subscriptions.
//   - Request/response: correlated RPC over queues, including the
//     multicast variant that collects a stream of replies.
//
// # Wiring
//
// A bus is assembled from a transport, a handler registry (frozen when
// the bus starts) and options:
//
//	reg := registry.New()
//	reg.Register(
//	    registry.NewCommandHandler(handlePlaceOrder),
//	    registry.NewCompetingEventHandler(handleOrderPlaced),
//	    registry.NewRequestHandler(handlePing),
//	)
//
//	b, err := bus.New(transport.NewChannelTransport(), reg,
//	    bus.WithConfig(cfg),
//	    bus.WithLogger(logger),
//	)
//
// Start the pumps with the errgroup pattern:
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(b.Run(ctx))
//
// # Sending
//
// Every operation verifies the message type against the registry before
// touching the transport, lazily provisions the destination entity, and
// runs the outbound interceptor chain around the send:
//
//	err := b.Send(ctx, PlaceOrder{ID: 7})
//	err = b.Publish(ctx, OrderPlaced{ID: 7})
//	pong, err := bus.Request[Pong](ctx, b, Ping{})
//	quotes, err := bus.MulticastRequest[Quote](ctx, b, RequestQuote{}, time.Second)
//
// Requests are answered on an instance-private reply queue; the
// correlator matches replies by CorrelationID and a background reaper
// enforces deadlines. Handler failures on the remote side surface as
// correlation.ErrRequestFailedRemotely with the serialized detail.
package bus
