// Package portaudio implements the microphone frame source on top of
// PortAudio. It requires cgo and the PortAudio shared library, so it is kept
// apart from the rest of the capture package.
package portaudio
