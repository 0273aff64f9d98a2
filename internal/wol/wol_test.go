package wol

import (
	"bytes"
	"testing"
)

func TestMagicPacket(t *testing.T) {
	packet, err := MagicPacket("aa:bb:cc:dd:ee:ff")
	if err != nil {
		t.Fatalf("magic packet: %v", err)
	}
	if len(packet) != 102 {
		t.Fatalf("expected 102 bytes, got %d", len(packet))
	}
	if !bytes.Equal(packet[:6], []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}) {
		t.Fatalf("missing sync header: %x", packet[:6])
	}
	mac := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	for i := 0; i < 16; i++ {
		chunk := packet[6+i*6 : 12+i*6]
		if !bytes.Equal(chunk, mac) {
			t.Fatalf("repetition %d wrong: %x", i, chunk)
		}
	}
}

func TestMagicPacketRejectsBadMAC(t *testing.T) {
	if _, err := MagicPacket("not-a-mac"); err == nil {
		t.Fatalf("expected parse error")
	}
	// EUI-64 parses but is not a wake target.
	if _, err := MagicPacket("02:00:5e:10:00:00:00:01"); err == nil {
		t.Fatalf("expected 48-bit requirement")
	}
}
