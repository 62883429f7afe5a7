// Package session implements the streaming session: it owns the capture run,
// turns frames into gated WAV chunks on a single goroutine, dispatches them
// through the bound transport and assembles the returned segments.
//
// A session moves Idle -> Capturing -> Stopping -> Idle. Stop always flushes
// the last partial chunk, and device loss ends the run the same way.
package session
