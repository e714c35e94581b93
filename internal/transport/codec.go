package transport

import (
	"encoding/binary"
	"fmt"
)

const audioHeaderSize = 4

// EncodeAudioFrame prefixes an audio chunk with its session id as a
// 4-byte big-endian integer.
func EncodeAudioFrame(sessionID int, data []byte) []byte {
	frame := make([]byte, audioHeaderSize+len(data))
	binary.BigEndian.PutUint32(frame[:audioHeaderSize], uint32(sessionID))
	copy(frame[audioHeaderSize:], data)
	return frame
}

// DecodeAudioFrame splits a binary frame into session id and payload.
func DecodeAudioFrame(frame []byte) (int, []byte, error) {
	if len(frame) < audioHeaderSize {
		return 0, nil, fmt.Errorf("audio frame too short: %d bytes", len(frame))
	}
	id := int(binary.BigEndian.Uint32(frame[:audioHeaderSize]))
	return id, frame[audioHeaderSize:], nil
}
