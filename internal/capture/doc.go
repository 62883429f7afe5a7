// Package capture defines the PCM frame source contract used by a
// recording session, along with its device error taxonomy. It provides a
// WAV file source that replays uploaded recordings as live capture, and a
// blob loader for container recordings that are forwarded without decoding.
// The microphone source lives in the portaudio subpackage.
package capture
