// Package timeouts defines shared timeout constants used by the editor
// process.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// WSWrite bounds a single WebSocket frame write so a stalled client cannot
// pin its writer goroutine forever.
const WSWrite = 10 * time.Second
