// Package protocol implements the binary frame that carries encoded
// envelopes over a TCP stream.
//
// A fixed 15-byte header is followed by a variable-length body. The reader
// takes the header first to learn the body length, then reads exactly that
// many bytes.
//
// Frame format:
//
//	0      3  4  5  6  7         11        15
//	┌──────┬──┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│fl│   seq   │ bodyLen │    body ...    │
//	│ jrp  │01│  │  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// A response frame with an empty body means the server produced no
// response for that request.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Magic number bytes: "jrp".
const (
	MagicNumber byte = 0x6a // 'j'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 15 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 1 (flags) + 4 (seq) + 4 (bodyLen)

	// MaxBodyLen bounds the body a peer may announce.
	MaxBodyLen uint32 = 64 << 20
)

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → Server request
	MsgTypeResponse  MsgType = 1 // Server → Client response, empty when suppressed
	MsgTypeHeartbeat MsgType = 2 // keepalive ping, no body
	MsgTypeNotify    MsgType = 3 // Client → Server request that gets no response frame
)

// Flags carry per-frame options.
const (
	FlagSnappy byte = 1 << 0 // body is snappy-compressed
)

// Codec type constants, mirrored from the codec package to keep this
// package free of envelope concerns.
const (
	CodecTypeJSON byte = 0
	CodecTypeCBOR byte = 1
)

// Header represents the fixed frame header.
type Header struct {
	CodecType byte    // 0=JSON, 1=CBOR
	MsgType   MsgType // Request, Response, Heartbeat or Notify
	Flags     byte
	Seq       uint32 // matches a response to its request
	BodyLen   uint32 // length of the body on the wire
}

// Encode writes a complete frame to w, compressing body when h asks for it.
// h.BodyLen is set to the length actually written. The caller must hold a
// write lock if multiple goroutines share w.
func Encode(w io.Writer, h *Header, body []byte) error {
	if h.Flags&FlagSnappy != 0 && len(body) > 0 {
		body = snappy.Encode(nil, body)
	}
	if uint64(len(body)) > uint64(MaxBodyLen) {
		return fmt.Errorf("frame body too large: %d bytes", len(body))
	}
	h.BodyLen = uint32(len(body))

	buf := make([]byte, HeaderSize, HeaderSize+len(body))
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	buf[6] = h.Flags
	binary.BigEndian.PutUint32(buf[7:11], h.Seq)
	binary.BigEndian.PutUint32(buf[11:15], h.BodyLen)

	// One write per frame.
	_, err := w.Write(append(buf, body...))
	return err
}

// Decode reads a complete frame from r and returns the decompressed body.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeCBOR {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := MsgType(headerBuf[5])
	if msgType > MsgTypeNotify {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	h := &Header{
		CodecType: headerBuf[4],
		MsgType:   msgType,
		Flags:     headerBuf[6],
		Seq:       binary.BigEndian.Uint32(headerBuf[7:11]),
		BodyLen:   binary.BigEndian.Uint32(headerBuf[11:15]),
	}
	if h.BodyLen > MaxBodyLen {
		return nil, nil, fmt.Errorf("frame body too large: %d bytes", h.BodyLen)
	}

	body := make([]byte, h.BodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}
	if h.Flags&FlagSnappy != 0 && len(body) > 0 {
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, nil, fmt.Errorf("decompress body: %w", err)
		}
		body = decoded
	}
	return h, body, nil
}
