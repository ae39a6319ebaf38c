// Package server implements the UDP listener for the voice frame feed and
// the HTTP operator API. Packets are processed by a worker pool and routed
// to recording sessions; the HTTP side exposes session control, note
// queries and monitoring endpoints.
package server
