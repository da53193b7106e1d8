// Package quicsession holds a TLS session-ticket cache shared across
// repeated runs of the QUIC download manager within one process, so that
// the `--num N` repetition flag in cmd/dashgov actually exercises 0-RTT
// resumption on repetitions 2..N rather than only specifying it.
//
// tls.ClientSessionCache is the interface tls.Config.ClientSessionCache
// requires directly; no third-party library substitutes for it, so this
// package wraps the standard library's own LRU implementation rather than
// hand-rolling one.
package quicsession

import "crypto/tls"

// DefaultCapacity bounds the number of cached session tickets; one per
// distinct origin contacted across the run.
const DefaultCapacity = 32

// New returns a tls.ClientSessionCache to be shared across every *download.H3Manager
// constructed in a single process, so 0-RTT resumption survives across the
// `--num N` repetition loop without a new manager starting cold each time.
func New() tls.ClientSessionCache {
	return tls.NewLRUClientSessionCache(DefaultCapacity)
}
