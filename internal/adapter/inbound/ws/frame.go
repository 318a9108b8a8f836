// Package ws relays WebSocket sessions between clients and backends.
// The handshake is proxied, then frames are relayed bidirectionally
// with lifecycle and rate-limit enforcement.
package ws

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
)

// Frame opcodes (RFC 6455 section 5.2).
const (
	opContinuation byte = 0x0
	opText         byte = 0x1
	opBinary       byte = 0x2
	opClose        byte = 0x8
	opPing         byte = 0x9
	opPong         byte = 0xA
)

// Close codes used by the relay.
const (
	closeNormal      uint16 = 1000
	closeGoingAway   uint16 = 1001
	closeProtocolErr uint16 = 1002
	closeInternal    uint16 = 1011
	closeRateLimited uint16 = 4429
)

// maxFrameBytes bounds a single frame payload. Larger frames abort the
// session rather than buffering unbounded data.
const maxFrameBytes = 16 << 20

// frame is one parsed WebSocket frame. Fragmentation is relayed as-is:
// fin and opcode pass through untouched.
type frame struct {
	fin     bool
	opcode  byte
	payload []byte
}

// isData reports whether the frame carries application data.
func (f frame) isData() bool {
	return f.opcode == opText || f.opcode == opBinary || f.opcode == opContinuation
}

// readFrame reads one frame, unmasking the payload when the sender
// masked it.
func readFrame(r io.Reader) (frame, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return frame{}, err
	}

	f := frame{
		fin:    header[0]&0x80 != 0,
		opcode: header[0] & 0x0F,
	}
	masked := header[1]&0x80 != 0
	length := uint64(header[1] & 0x7F)

	switch length {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return frame{}, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(r, ext[:]); err != nil {
			return frame{}, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}
	if length > maxFrameBytes {
		return frame{}, fmt.Errorf("frame of %d bytes exceeds limit", length)
	}

	var maskKey [4]byte
	if masked {
		if _, err := io.ReadFull(r, maskKey[:]); err != nil {
			return frame{}, err
		}
	}

	f.payload = make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, f.payload); err != nil {
			return frame{}, err
		}
	}
	if masked {
		for i := range f.payload {
			f.payload[i] ^= maskKey[i%4]
		}
	}
	return f, nil
}

// writeFrame writes one frame. Frames toward the backend are masked
// (the relay acts as a client there); frames toward the client are not.
func writeFrame(w io.Writer, f frame, mask bool) error {
	first := f.opcode
	if f.fin {
		first |= 0x80
	}
	header := []byte{first, 0}

	maskBit := byte(0)
	if mask {
		maskBit = 0x80
	}
	switch length := len(f.payload); {
	case length <= 125:
		header[1] = maskBit | byte(length)
	case length <= 65535:
		header[1] = maskBit | 126
		header = binary.BigEndian.AppendUint16(header, uint16(length))
	default:
		header[1] = maskBit | 127
		header = binary.BigEndian.AppendUint64(header, uint64(length))
	}

	if !mask {
		if _, err := w.Write(header); err != nil {
			return err
		}
		if len(f.payload) > 0 {
			_, err := w.Write(f.payload)
			return err
		}
		return nil
	}

	var maskKey [4]byte
	if _, err := rand.Read(maskKey[:]); err != nil {
		return fmt.Errorf("generate mask key: %w", err)
	}
	buf := make([]byte, 0, len(header)+4+len(f.payload))
	buf = append(buf, header...)
	buf = append(buf, maskKey[:]...)
	for i, b := range f.payload {
		buf = append(buf, b^maskKey[i%4])
	}
	_, err := w.Write(buf)
	return err
}

// closeFrame builds a close frame with the given code and reason.
func closeFrame(code uint16, reason string) frame {
	payload := binary.BigEndian.AppendUint16(nil, code)
	payload = append(payload, reason...)
	return frame{fin: true, opcode: opClose, payload: payload}
}
