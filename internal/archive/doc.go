// Package archive persists finished transcripts: plain text export files
// with a dated header, and a badger-backed store of full segment logs.
package archive
