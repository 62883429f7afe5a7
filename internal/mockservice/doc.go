// Package mockservice is a stand-in transcription service for local development
// and end-to-end tests. It speaks the streaming websocket protocol, the stateless
// multipart endpoint and the status endpoint, and answers every chunk with
// canned text.
package mockservice
