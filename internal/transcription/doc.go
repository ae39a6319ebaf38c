// Package transcription implements the HTTP client for the transcription
// engine. It uploads speaker segments as WAV files via multipart form data,
// retries once with rate-normalized audio, and bounds concurrent requests.
package transcription
