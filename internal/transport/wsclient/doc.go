// Package wsclient streams chunk messages to the transcription service over
// a websocket and routes the service's events back to a transport.Handler.
package wsclient
