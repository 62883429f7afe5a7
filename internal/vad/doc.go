// Package vad provides an energy based silence gate. Chunks whose
// root-mean-square level falls below a threshold are suppressed before
// they are encoded and sent for transcription.
package vad
