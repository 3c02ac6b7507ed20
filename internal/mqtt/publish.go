package mqtt

import (
	"encoding/binary"
	"fmt"
)

// PublishPacket represents a PUBLISH packet
type PublishPacket struct {
	Dup        bool
	QoS        byte
	Retain     bool
	Topic      string
	PacketID   uint16 // only on the wire when QoS > 0
	Properties []byte
	Payload    []byte
}

func (p *PublishPacket) Type() PacketType { return PUBLISH }

// Encode serializes the PUBLISH packet into dst.
func (p *PublishPacket) Encode(dst []byte) ([]byte, error) {
	if p.QoS > 2 {
		return nil, fmt.Errorf("invalid QoS %d", p.QoS)
	}
	remaining := 2 + len(p.Topic) +
		varIntSize(len(p.Properties)) + len(p.Properties) +
		len(p.Payload)
	if p.QoS > 0 {
		remaining += 2
	}

	var flags byte
	if p.Dup {
		flags |= 0x08
	}
	flags |= (p.QoS & 0x03) << 1
	if p.Retain {
		flags |= 0x01
	}

	dst = appendFixedHeader(dst, PUBLISH, flags, remaining)
	dst = appendString(dst, p.Topic)
	if p.QoS > 0 {
		dst = binary.BigEndian.AppendUint16(dst, p.PacketID)
	}
	dst = appendProperties(dst, p.Properties)
	return append(dst, p.Payload...), nil
}

func decodePublish(flags byte, body []byte) (*PublishPacket, error) {
	pkt := &PublishPacket{
		Dup:    flags&0x08 != 0,
		QoS:    (flags >> 1) & 0x03,
		Retain: flags&0x01 != 0,
	}
	if pkt.QoS > 2 {
		return nil, fmt.Errorf("invalid QoS 3")
	}

	topic, off, err := decodeString(body)
	if err != nil {
		return nil, fmt.Errorf("topic: %w", err)
	}
	pkt.Topic = topic

	if pkt.QoS > 0 {
		if len(body) < off+2 {
			return nil, fmt.Errorf("buffer too short for packet id")
		}
		pkt.PacketID = binary.BigEndian.Uint16(body[off:])
		off += 2
	}

	props, n, err := decodeProperties(body[off:])
	if err != nil {
		return nil, fmt.Errorf("publish properties: %w", err)
	}
	pkt.Properties = props
	off += n

	pkt.Payload = body[off:]
	return pkt, nil
}
