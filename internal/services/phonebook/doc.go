// Package phonebook serves a small social graph of identities and the
// contacts they befriend.
//
// Queries and mutations run over a request/response GraphQL endpoint; newly
// created contacts fan out to live subscribers over a websocket channel that
// is independent of the request path. The record store stays the source of
// truth: nothing is cached across requests.
package phonebook
