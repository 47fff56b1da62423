// Package sinks implements concrete progress consumers: Prometheus collectors,
// repository-backed persistence, message-bus forwarding, and structured
// logging. Each sink satisfies the progress.Sink interface and is safe for
// repeated Consume/Close cycles.
package sinks
