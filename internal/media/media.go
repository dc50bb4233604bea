// Package media drives the underlying audio engine. The playback controller
// talks to the Engine interface only; the one real implementation wraps an
// mpv process over its JSON IPC socket.
package media

import "context"

// Event is one state update from the engine. Pointer fields are nil when the
// update does not carry that property.
type Event struct {
	TimePos   *float64
	Duration  *float64
	Paused    *bool
	Volume    *float64
	Loaded    bool   // the source opened and playback can proceed
	Ended     bool   // the track ran out naturally
	EndReason string // "eof", "stop", "quit", "error", "redirect"
	Err       error
}

type Engine interface {
	Start(ctx context.Context) error
	// Load replaces the current source. Headers are applied to the fetch
	// when the engine supports them.
	Load(url string, headers map[string]string) error
	SetPaused(paused bool) error
	// Seek moves by a relative number of seconds.
	Seek(deltaSeconds float64) error
	SetVolume(vol float64) error
	// Unload stops the current source without shutting the engine down.
	Unload() error
	Events() <-chan Event
	Close() error
}
