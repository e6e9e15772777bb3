// Package server wires the phonebook store, auth, event bus, and transports
// into one process serving HTTP, websocket subscriptions, and gRPC health.
package server
