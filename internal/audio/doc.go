// Package audio handles chunk accumulation and WAVE encoding of captured PCM.
// It implements the fixed-duration and timer-driven chunk boundary policies and the
// canonical 16-bit mono WAV serialization sent to the transcription service.
package audio
