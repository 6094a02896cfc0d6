package protocol

import (
	"bytes"
	"testing"

	"pgregory.net/rapid"
)

// TestPacketRoundTrip tests that any payload up to MaxPayload and any type
// code survives a write/read cycle unchanged.
func TestPacketRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		typ := PacketType(rapid.Byte().Draw(t, "type"))
		payloadLen := rapid.IntRange(0, MaxPayload).Draw(t, "payloadLen")
		payload := rapid.SliceOfN(rapid.Byte(), payloadLen, payloadLen).Draw(t, "payload")

		var buf bytes.Buffer
		if err := WritePayload(&buf, typ, payload); err != nil {
			t.Fatalf("write failed: %v", err)
		}

		pkt, err := ReadPacket(&buf)
		if err != nil {
			t.Fatalf("read failed: %v", err)
		}

		if pkt.Type != typ {
			t.Fatalf("type mismatch: got %d, want %d", pkt.Type, typ)
		}
		if !bytes.Equal(pkt.Payload, payload) {
			t.Fatalf("payload mismatch")
		}
		if buf.Len() != 0 {
			t.Fatalf("expected a single packet, %d bytes left over", buf.Len())
		}
	})
}

// TestFragmentationRoundTrip tests that oversized payloads split into
// ceil(len/MaxPayload) packets of the same type whose payloads concatenate
// back to the original bytes.
func TestFragmentationRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		typ := PacketType(rapid.Byte().Draw(t, "type"))
		payloadLen := rapid.IntRange(MaxPayload+1, MaxPayload*3+17).Draw(t, "payloadLen")
		payload := rapid.SliceOfN(rapid.Byte(), payloadLen, payloadLen).Draw(t, "payload")

		var buf bytes.Buffer
		if err := WritePayload(&buf, typ, payload); err != nil {
			t.Fatalf("write failed: %v", err)
		}

		wantPackets := (payloadLen + MaxPayload - 1) / MaxPayload

		var reassembled []byte
		packets := 0
		for buf.Len() > 0 {
			pkt, err := ReadPacket(&buf)
			if err != nil {
				t.Fatalf("read failed after %d packets: %v", packets, err)
			}
			if pkt.Type != typ {
				t.Fatalf("fragment %d type mismatch: got %d, want %d", packets, pkt.Type, typ)
			}
			if len(pkt.Payload) > MaxPayload {
				t.Fatalf("fragment %d exceeds MaxPayload: %d", packets, len(pkt.Payload))
			}
			reassembled = append(reassembled, pkt.Payload...)
			packets++
		}

		if packets != wantPackets {
			t.Fatalf("packet count mismatch: got %d, want %d", packets, wantPackets)
		}
		if !bytes.Equal(reassembled, payload) {
			t.Fatalf("reassembled payload mismatch")
		}
	})
}

// TestMalformedSizeNeverDecodes tests that any declared size above
// MaxPayload fails with ErrMalformedHeader regardless of trailing bytes.
func TestMalformedSizeNeverDecodes(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(MaxPayload+1, 0xFFFF).Draw(t, "size")
		typ := rapid.Byte().Draw(t, "type")
		trailing := rapid.SliceOf(rapid.Byte()).Draw(t, "trailing")

		var buf bytes.Buffer
		buf.Write([]byte{byte(size), byte(size >> 8), typ})
		buf.Write(trailing)

		before := buf.Len()
		_, err := ReadPacket(&buf)
		if err != ErrMalformedHeader {
			t.Fatalf("expected ErrMalformedHeader, got %v", err)
		}
		if buf.Len() != before-HeaderSize {
			t.Fatalf("malformed header consumed payload bytes")
		}
	})
}
