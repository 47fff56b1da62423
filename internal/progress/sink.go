package progress

import "context"

// Sink stores or forwards event batches on behalf of the Hub.
//
// The hub calls Consume from its single batching goroutine, so
// implementations need no serialization of their own unless they are shared
// elsewhere. Batches are never empty, and the hub does not reuse the slice
// after the call, so a sink may retain it. Close runs once during shutdown,
// after the final Consume.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter is the write side of the Hub. Crawl code accepts this interface so
// progress reporting stays optional and swappable in tests.
type Emitter interface {
	Emit(evt Event)
}
