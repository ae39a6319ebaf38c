// Package protocol implements binary frame-feed packet parsing and validation.
// It handles the gateway wire format: header parsing, session open/close
// control payload extraction, and per-speaker audio payload processing.
package protocol
