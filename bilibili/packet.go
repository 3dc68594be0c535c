package bilibili

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zlib"
)

// Every frame on the room websocket starts with this 16 byte big-endian header:
//
//	0  uint32 packet length (header included)
//	4  uint16 header length (16)
//	6  uint16 protocol version
//	8  uint32 operation
//	12 uint32 sequence
const headerLen = 16

// Protocol versions.
const (
	ProtoJSON   uint16 = 0
	ProtoInt    uint16 = 1
	ProtoZlib   uint16 = 2
	ProtoBrotli uint16 = 3
)

// Operations.
const (
	OpHeartbeat      uint32 = 2
	OpHeartbeatReply uint32 = 3
	OpCommand        uint32 = 5
	OpAuth           uint32 = 7
	OpAuthReply      uint32 = 8
)

var errShortPacket = errors.New("bilibili: short packet")

// Packet is one decoded frame.
type Packet struct {
	Proto uint16
	Op    uint32
	Seq   uint32
	Body  []byte
}

// Encode serializes a single uncompressed packet.
func Encode(proto uint16, op uint32, body []byte) []byte {
	buf := make([]byte, headerLen+len(body))
	binary.BigEndian.PutUint32(buf[0:], uint32(len(buf)))
	binary.BigEndian.PutUint16(buf[4:], headerLen)
	binary.BigEndian.PutUint16(buf[6:], proto)
	binary.BigEndian.PutUint32(buf[8:], op)
	binary.BigEndian.PutUint32(buf[12:], 1)
	copy(buf[headerLen:], body)
	return buf
}

// Decode splits data into packets. Compressed command batches are inflated
// and their inner packets returned in order.
func Decode(data []byte) ([]Packet, error) {
	var out []Packet
	for len(data) > 0 {
		if len(data) < headerLen {
			return out, fmt.Errorf("%w: %d bytes", errShortPacket, len(data))
		}
		total := int(binary.BigEndian.Uint32(data[0:]))
		hlen := int(binary.BigEndian.Uint16(data[4:]))
		if total < headerLen || total > len(data) || hlen < headerLen || hlen > total {
			return out, fmt.Errorf("%w: length %d header %d have %d", errShortPacket, total, hlen, len(data))
		}
		p := Packet{
			Proto: binary.BigEndian.Uint16(data[6:]),
			Op:    binary.BigEndian.Uint32(data[8:]),
			Seq:   binary.BigEndian.Uint32(data[12:]),
			Body:  data[hlen:total],
		}
		data = data[total:]

		if p.Op == OpCommand && (p.Proto == ProtoZlib || p.Proto == ProtoBrotli) {
			inner, err := inflate(p.Proto, p.Body)
			if err != nil {
				return out, err
			}
			nested, err := Decode(inner)
			out = append(out, nested...)
			if err != nil {
				return out, err
			}
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func inflate(proto uint16, body []byte) ([]byte, error) {
	var r io.Reader
	switch proto {
	case ProtoZlib:
		zr, err := zlib.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("bilibili: zlib: %w", err)
		}
		defer zr.Close()
		r = zr
	case ProtoBrotli:
		r = brotli.NewReader(bytes.NewReader(body))
	default:
		return body, nil
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("bilibili: inflate proto %d: %w", proto, err)
	}
	return b, nil
}

// popularity reads the viewer count carried by a heartbeat reply.
func popularity(body []byte) (int64, bool) {
	if len(body) < 4 {
		return 0, false
	}
	return int64(binary.BigEndian.Uint32(body)), true
}
