package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// HeaderSize is the fixed size of a packet header in bytes:
	// 2-byte little-endian payload size followed by a 1-byte type code.
	HeaderSize = 3

	// MaxPayload is the maximum payload size a single packet may carry.
	// Larger payloads are fragmented across consecutive packets.
	MaxPayload = 8096
)

// ErrMalformedHeader is returned when a decoded header declares a payload
// size outside 0..MaxPayload. The stream is not self-delimiting after a
// corrupt header, so the caller must tear the connection down.
var ErrMalformedHeader = errors.New("malformed header: payload size out of range")

// Packet is one typed, length-delimited unit of the wire protocol.
// A nil payload is a valid packet with a declared size of zero.
type Packet struct {
	Type    PacketType
	Payload []byte
}

// Wire layout per packet:
//
//	[payloadSize: 2 bytes LE][type: 1 byte][payload: payloadSize bytes]

// ReadPacket reads exactly one packet from the stream. A stream that ends
// mid-header or mid-payload yields the underlying I/O error (io.EOF or
// io.ErrUnexpectedEOF); a header declaring a size above MaxPayload yields
// ErrMalformedHeader without consuming any further bytes.
func ReadPacket(r io.Reader) (*Packet, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.LittleEndian.Uint16(header[0:2])
	if int(size) > MaxPayload {
		return nil, ErrMalformedHeader
	}

	typ := PacketType(header[2])
	if size == 0 {
		return &Packet{Type: typ}, nil
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return &Packet{Type: typ, Payload: payload}, nil
}

// WritePayload writes the payload as one or more packets of the given type.
// Payloads larger than MaxPayload are split into consecutive packets of at
// most MaxPayload bytes each; a nil or empty payload is written as a single
// packet with a declared size of zero. Each packet is written with a single
// Write call so a chunk is never partially interleaved, but callers that
// share a stream between goroutines must still serialize WritePayload calls
// themselves (the transport session does this).
func WritePayload(w io.Writer, typ PacketType, payload []byte) error {
	if len(payload) == 0 {
		return writeChunk(w, typ, nil)
	}

	for off := 0; off < len(payload); {
		n := len(payload) - off
		if n > MaxPayload {
			n = MaxPayload
		}
		if err := writeChunk(w, typ, payload[off:off+n]); err != nil {
			return err
		}
		off += n
	}

	return nil
}

func writeChunk(w io.Writer, typ PacketType, chunk []byte) error {
	buf := make([]byte, HeaderSize+len(chunk))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(chunk)))
	buf[2] = byte(typ)
	copy(buf[HeaderSize:], chunk)
	_, err := w.Write(buf)
	return err
}
