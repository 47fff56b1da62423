// Package crawler defines the core types and interfaces of the snapshot
// pipeline and the traversal engine that drives it: a bounded-concurrency,
// depth-limited, same-domain walk over a site's link graph producing one
// page node per visited URL.
package crawler
