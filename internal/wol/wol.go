// Package wol sends Wake-on-LAN magic packets so a powered-down media
// center can be woken before connecting.
package wol

import (
	"fmt"
	"net"
)

// MagicPacket builds the 102-byte magic packet for a MAC address.
func MagicPacket(mac string) ([]byte, error) {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return nil, fmt.Errorf("parse mac: %w", err)
	}
	if len(hw) != 6 {
		return nil, fmt.Errorf("mac %q is not a 48-bit address", mac)
	}

	packet := make([]byte, 0, 102)
	for i := 0; i < 6; i++ {
		packet = append(packet, 0xFF)
	}
	for i := 0; i < 16; i++ {
		packet = append(packet, hw...)
	}
	return packet, nil
}

// Wake broadcasts a magic packet for mac. broadcast may be empty, in which
// case the limited broadcast address is used.
func Wake(mac, broadcast string) error {
	packet, err := MagicPacket(mac)
	if err != nil {
		return err
	}
	if broadcast == "" {
		broadcast = "255.255.255.255"
	}

	conn, err := net.Dial("udp", net.JoinHostPort(broadcast, "9"))
	if err != nil {
		return fmt.Errorf("dial broadcast: %w", err)
	}
	defer conn.Close()

	if _, err := conn.Write(packet); err != nil {
		return fmt.Errorf("send magic packet: %w", err)
	}
	return nil
}
