// Package timeouts defines shared timeout constants used across the servers.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long a server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// JournalRetry caps one backoff delay between journal write retries.
const JournalRetry = 2 * time.Second
