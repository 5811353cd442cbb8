// Package operations consumes operation envelopes from a queue and routes
// each one to its handler.
//
// An envelope is a queue message whose attributes carry the routing data
// (operation name, owning user, application name, event type) and whose body
// carries the operation-specific JSON payload. Attributes are decoded and
// checked before the body is touched.
//
// Core Components:
//
// Kind: the closed set of operations. Names that are not recognised decode to
// KindUnknown and keep the raw name for logging.
//
// Dispatcher: a single sequential consumer. Every message moves through
// decoding, routing, executing and, for rpc requests, replying. Messages that
// cannot be decoded and messages whose handler fails are logged and
// acknowledged; nothing is retried here.
//
// Handlers: the per-kind work. Every handler except updateAppsTop obtains a
// connected credential before touching the document service.
//
// Enqueuer: builds envelopes for producers such as the HTTP trigger.
//
// Example usage:
//
//	handlers := operations.NewHandlers(credManager, connector, ledgerEngine, rankingEngine)
//	dispatcher := operations.NewDispatcher("operations", handlers,
//		operations.WithStatusSink(hub),
//		operations.WithLogger(logger),
//	)
//	err := dispatcher.Run(ctx, source)
package operations
