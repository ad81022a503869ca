package link

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire layout:
//
//	sig(2) | len(2, LE) | crc8(1) | crc16(2, LE) | type(1) | seq(1) | payload
//
// len counts the body: crc16 + type + seq + payload. crc8 covers the two
// length bytes; crc16 covers type, seq and payload.
const (
	frameSig0       = 0xDE
	frameSig1       = 0xAD
	frameHeaderSize = 5
	frameBodyMin    = 4
	maxPayloadSize  = 4096
)

var (
	ErrFrameCRC      = errors.New("frame crc mismatch")
	ErrFrameTooLarge = errors.New("frame too large")
)

// frame is one decoded message.
type frame struct {
	Type    uint8
	Seq     uint8
	Payload []byte
}

// --- CRC-8/KOOP (reflected poly=0xB2, init=0xFF, xorout=0xFF) ---

var crc8Table [256]uint8

// --- CRC-16/KERMIT (reflected poly=0x8408, init=0x0000) ---

var crc16Table [256]uint16

func init() {
	for i := 0; i < 256; i++ {
		c8 := uint8(i)
		c16 := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if c8&1 != 0 {
				c8 = (c8 >> 1) ^ 0xB2
			} else {
				c8 >>= 1
			}
			if c16&1 != 0 {
				c16 = (c16 >> 1) ^ 0x8408
			} else {
				c16 >>= 1
			}
		}
		crc8Table[i] = c8
		crc16Table[i] = c16
	}
}

func crc8(data []byte) uint8 {
	crc := uint8(0xFF)
	for _, b := range data {
		crc = crc8Table[crc^b]
	}
	return crc ^ 0xFF
}

func crc16(data []byte) uint16 {
	crc := uint16(0x0000)
	for _, b := range data {
		crc = (crc >> 8) ^ crc16Table[(crc^uint16(b))&0xFF]
	}
	return crc
}

// encodeFrame builds the wire bytes for f.
func encodeFrame(f frame) ([]byte, error) {
	if len(f.Payload) > maxPayloadSize {
		return nil, fmt.Errorf("payload %d bytes: %w", len(f.Payload), ErrFrameTooLarge)
	}
	bodyLen := frameBodyMin + len(f.Payload)
	out := make([]byte, frameHeaderSize+bodyLen)
	out[0] = frameSig0
	out[1] = frameSig1
	binary.LittleEndian.PutUint16(out[2:4], uint16(bodyLen))
	out[4] = crc8(out[2:4])

	body := out[frameHeaderSize:]
	body[2] = f.Type
	body[3] = f.Seq
	copy(body[4:], f.Payload)
	binary.LittleEndian.PutUint16(body[0:2], crc16(body[2:]))
	return out, nil
}

// readFrame reads the next valid frame, skipping bytes until a signature.
// Corrupt frames are reported so the caller can log and continue.
func readFrame(r *bufio.Reader) (frame, error) {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return frame{}, err
		}
		if b != frameSig0 {
			continue
		}
		next, err := r.Peek(1)
		if err != nil {
			return frame{}, err
		}
		if next[0] == frameSig1 {
			_, _ = r.ReadByte()
			break
		}
	}

	var hdr [3]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return frame{}, err
	}
	if got := crc8(hdr[0:2]); got != hdr[2] {
		return frame{}, fmt.Errorf("header crc8: frame 0x%02X, computed 0x%02X: %w", hdr[2], got, ErrFrameCRC)
	}
	bodyLen := int(binary.LittleEndian.Uint16(hdr[0:2]))
	if bodyLen < frameBodyMin || bodyLen > frameBodyMin+maxPayloadSize {
		return frame{}, fmt.Errorf("body length %d: %w", bodyLen, ErrFrameTooLarge)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return frame{}, err
	}
	if got, sent := crc16(body[2:]), binary.LittleEndian.Uint16(body[0:2]); got != sent {
		return frame{}, fmt.Errorf("body crc16: frame 0x%04X, computed 0x%04X: %w", sent, got, ErrFrameCRC)
	}
	return frame{Type: body[2], Seq: body[3], Payload: body[4:]}, nil
}
