// Package server implements the local HTTP API of the live transcription client.
// It starts and stops capture, accepts uploaded recordings, exposes the transcript
// and its saved archive, and serves Prometheus metrics.
package server
