// Package transcription implements request/response transports for the
// transcription service. Each chunk becomes one request, either a multipart
// POST to a stateless endpoint or a call to an OpenAI compatible audio API.
// Requests run in the background under a concurrency limit and are never
// retried. The package also provides the service status query.
package transcription
