// Package audio handles per-speaker audio buffering and format conversion.
// It implements PCM frame accumulation ordered by capture time, silence-gap
// flush detection, sample-rate conversion, and WAV encoding for transcription.
package audio
