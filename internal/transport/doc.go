// Package transport defines how chunk messages leave a session and how
// service events come back: the Dispatcher and Handler contracts, the
// streaming wire messages, and the transport error taxonomy.
package transport
