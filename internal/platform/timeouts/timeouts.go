// Package timeouts defines shared timeout constants used by the service
// process and its transports.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second

// HealthCheck caps a single gRPC health probe.
const HealthCheck = time.Second

// WebSocketInit limits how long a subscription client may take to send its
// connection_init message.
const WebSocketInit = 10 * time.Second
