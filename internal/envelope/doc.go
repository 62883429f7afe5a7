// Package envelope pairs an encoded audio chunk with its metadata for
// transport. The audio is carried as standard padded base64.
package envelope
