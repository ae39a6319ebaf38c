// Package summary implements the HTTP client for the local summarization
// engine. It generates meeting summaries and per-speaker task digests from
// merged transcripts, degrading to an unavailable result when the engine
// cannot be reached.
package summary
