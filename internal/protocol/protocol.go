package protocol

import (
	"encoding/binary"
	"fmt"
)

// Wire format constants
const (
	// Packet types
	PacketTypeOpen  = 0x01 // Recording started in a channel
	PacketTypeClose = 0x02 // Gateway left the channel
	PacketTypeAudio = 0x03 // Decoded PCM frame from one speaker

	// Packet structure sizes
	HeaderSize             = 12 // 1 + 2 + 1 + 8 bytes
	OpenPayloadSize        = 80 // 8 + 8 + 64 bytes
	ClosePayloadSize       = 8  // 8 bytes
	AudioPayloadHeaderSize = 20 // 8 + 4 + 8 bytes

	// Field sizes
	ChannelNameSize = 64
)

// Header represents the 12-byte packet header.
// Layout: [PacketType:1][PacketLen:2][Reserved:1][ChannelID:8]
type Header struct {
	PacketType uint8  // 0x01=Open, 0x02=Close, 0x03=Audio
	PacketLen  uint16 // Total packet size (header + payload)
	Reserved   uint8  // Must be zero
	ChannelID  uint64 // Voice channel identifier
}

// OpenPayload represents the 80-byte session open payload.
// Layout: [UserID:8][Timestamp:8][ChannelName:64]
type OpenPayload struct {
	UserID      uint64                // Collaborator that started the recording
	Timestamp   uint64                // Unix milliseconds
	ChannelName [ChannelNameSize]byte // Null-terminated string
}

// ClosePayload represents the 8-byte session close payload.
// Layout: [Timestamp:8]
type ClosePayload struct {
	Timestamp uint64 // Unix milliseconds
}

// AudioPayload represents the audio packet payload.
// Layout: [SpeakerID:8][Sequence:4][Timestamp:8][PCM:N]
type AudioPayload struct {
	SpeakerID uint64 // Speaker the frame was captured from
	Sequence  uint32 // Per-speaker frame sequence number
	Timestamp uint64 // Capture time, unix milliseconds
	PCM       []byte // 16-bit little-endian mono samples
}

// ParsedPacket represents a fully parsed frame-feed packet
type ParsedPacket struct {
	Header *Header
	Open   *OpenPayload  // Only set for open packets
	Close  *ClosePayload // Only set for close packets
	Audio  *AudioPayload // Only set for audio packets
}

// ParseHeader parses the 12-byte packet header
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		PacketType: data[0],
		PacketLen:  binary.BigEndian.Uint16(data[1:3]),
		Reserved:   data[3],
		ChannelID:  binary.BigEndian.Uint64(data[4:12]),
	}

	return header, nil
}

// ParseOpenPayload parses the 80-byte session open payload
func ParseOpenPayload(data []byte) (*OpenPayload, error) {
	if len(data) < OpenPayloadSize {
		return nil, fmt.Errorf("open payload too short: expected %d bytes, got %d",
			OpenPayloadSize, len(data))
	}

	payload := &OpenPayload{
		UserID:    binary.BigEndian.Uint64(data[0:8]),
		Timestamp: binary.BigEndian.Uint64(data[8:16]),
	}
	copy(payload.ChannelName[:], data[16:16+ChannelNameSize])

	return payload, nil
}

// ParseClosePayload parses the 8-byte session close payload
func ParseClosePayload(data []byte) (*ClosePayload, error) {
	if len(data) < ClosePayloadSize {
		return nil, fmt.Errorf("close payload too short: expected %d bytes, got %d",
			ClosePayloadSize, len(data))
	}

	return &ClosePayload{
		Timestamp: binary.BigEndian.Uint64(data[0:8]),
	}, nil
}

// ParseAudioPayload parses the audio packet payload (20-byte frame header + PCM)
func ParseAudioPayload(data []byte) (*AudioPayload, error) {
	if len(data) < AudioPayloadHeaderSize {
		return nil, fmt.Errorf("audio payload too short: expected at least %d bytes, got %d",
			AudioPayloadHeaderSize, len(data))
	}

	payload := &AudioPayload{
		SpeakerID: binary.BigEndian.Uint64(data[0:8]),
		Sequence:  binary.BigEndian.Uint32(data[8:12]),
		Timestamp: binary.BigEndian.Uint64(data[12:20]),
	}

	// Copy PCM data (remaining bytes after the frame header)
	if len(data) > AudioPayloadHeaderSize {
		payload.PCM = make([]byte, len(data)-AudioPayloadHeaderSize)
		copy(payload.PCM, data[AudioPayloadHeaderSize:])
	}

	return payload, nil
}

// ParsePacket parses a complete frame-feed packet (header + payload)
func ParsePacket(data []byte) (*ParsedPacket, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("packet too short: expected at least %d bytes, got %d", HeaderSize, len(data))
	}

	// Parse header first
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	// Validate packet length matches actual data
	if int(header.PacketLen) != len(data) {
		return nil, fmt.Errorf("packet length mismatch: header says %d bytes, got %d bytes",
			header.PacketLen, len(data))
	}

	// Validate header fields
	if err := ValidateHeader(header); err != nil {
		return nil, fmt.Errorf("invalid header: %w", err)
	}

	packet := &ParsedPacket{Header: header}
	payloadData := data[HeaderSize:]

	// Parse payload based on packet type
	switch header.PacketType {
	case PacketTypeOpen:
		payload, err := ParseOpenPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse open payload: %w", err)
		}
		packet.Open = payload

	case PacketTypeClose:
		payload, err := ParseClosePayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse close payload: %w", err)
		}
		packet.Close = payload

	case PacketTypeAudio:
		payload, err := ParseAudioPayload(payloadData)
		if err != nil {
			return nil, fmt.Errorf("failed to parse audio payload: %w", err)
		}
		packet.Audio = payload

	default:
		return nil, fmt.Errorf("unknown packet type: 0x%02x", header.PacketType)
	}

	return packet, nil
}

// ValidateHeader validates the packet header fields
func ValidateHeader(header *Header) error {
	if !IsValidPacketType(header.PacketType) {
		return fmt.Errorf("invalid packet type: 0x%02x", header.PacketType)
	}

	if header.Reserved != 0 {
		return fmt.Errorf("reserved byte must be zero, got 0x%02x", header.Reserved)
	}

	if header.PacketLen < HeaderSize {
		return fmt.Errorf("packet length too small: %d (minimum %d)", header.PacketLen, HeaderSize)
	}

	// Validate expected payload sizes
	expectedPayloadSize := int(header.PacketLen) - HeaderSize
	switch header.PacketType {
	case PacketTypeOpen:
		if expectedPayloadSize != OpenPayloadSize {
			return fmt.Errorf("open packet payload size mismatch: expected %d, got %d",
				OpenPayloadSize, expectedPayloadSize)
		}
	case PacketTypeClose:
		if expectedPayloadSize != ClosePayloadSize {
			return fmt.Errorf("close packet payload size mismatch: expected %d, got %d",
				ClosePayloadSize, expectedPayloadSize)
		}
	case PacketTypeAudio:
		if expectedPayloadSize < AudioPayloadHeaderSize {
			return fmt.Errorf("audio packet payload too small: expected at least %d, got %d",
				AudioPayloadHeaderSize, expectedPayloadSize)
		}
	}

	return nil
}

// IsValidPacketType checks if the packet type is valid
func IsValidPacketType(ptype uint8) bool {
	return ptype == PacketTypeOpen || ptype == PacketTypeClose || ptype == PacketTypeAudio
}

// ExtractString extracts a null-terminated string from a fixed-size byte array
func ExtractString(buf []byte) string {
	// Find null terminator
	nullPos := len(buf)
	for i, b := range buf {
		if b == 0 {
			nullPos = i
			break
		}
	}
	return string(buf[:nullPos])
}

// GetChannelName extracts the channel name as a string
func (o *OpenPayload) GetChannelName() string {
	return ExtractString(o.ChannelName[:])
}

// String returns a human-readable representation of the header
func (h *Header) String() string {
	var packetType string

	switch h.PacketType {
	case PacketTypeOpen:
		packetType = "Open"
	case PacketTypeClose:
		packetType = "Close"
	case PacketTypeAudio:
		packetType = "Audio"
	default:
		packetType = fmt.Sprintf("Unknown(0x%02x)", h.PacketType)
	}

	return fmt.Sprintf("Header{Type:%s, Len:%d, ChannelID:%d}",
		packetType, h.PacketLen, h.ChannelID)
}

// String returns a human-readable representation of the open payload
func (o *OpenPayload) String() string {
	return fmt.Sprintf("OpenPayload{UserID:%d, Timestamp:%d, ChannelName:%q}",
		o.UserID, o.Timestamp, o.GetChannelName())
}

// String returns a human-readable representation of the audio payload
func (a *AudioPayload) String() string {
	return fmt.Sprintf("AudioPayload{SpeakerID:%d, Sequence:%d, Timestamp:%d, PCMLen:%d}",
		a.SpeakerID, a.Sequence, a.Timestamp, len(a.PCM))
}
