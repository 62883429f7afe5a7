// Package transcript assembles recognized text segments into an ordered
// log. Arrival order is authoritative because the wire protocol carries no
// sequence numbers.
package transcript
