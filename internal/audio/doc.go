// Package audio holds the signal side of the jaw: WAV decoding into in-memory
// tracks, the per-buffer loudness estimator with its optional voice band-pass,
// and channel routing helpers applied to outgoing buffers.
package audio
