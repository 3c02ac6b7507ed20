package mqtt

import (
	"encoding/binary"
	"fmt"
)

// Subscription is one topic filter inside a SUBSCRIBE packet. Options carries
// the raw subscription options byte; bits 0-1 are the requested QoS.
type Subscription struct {
	Filter  string
	Options byte
}

// QoS returns the requested maximum QoS of the subscription.
func (s Subscription) QoS() byte { return s.Options & 0x03 }

// SubscribePacket represents a SUBSCRIBE packet
type SubscribePacket struct {
	PacketID      uint16
	Properties    []byte
	Subscriptions []Subscription
}

func (s *SubscribePacket) Type() PacketType { return SUBSCRIBE }

func (s *SubscribePacket) Encode(dst []byte) ([]byte, error) {
	if len(s.Subscriptions) == 0 {
		return nil, fmt.Errorf("subscribe packet with no subscriptions")
	}
	remaining := 2 + varIntSize(len(s.Properties)) + len(s.Properties)
	for _, sub := range s.Subscriptions {
		remaining += 2 + len(sub.Filter) + 1
	}
	// SUBSCRIBE carries mandatory flag bits 0b0010.
	dst = appendFixedHeader(dst, SUBSCRIBE, 0x02, remaining)
	dst = binary.BigEndian.AppendUint16(dst, s.PacketID)
	dst = appendProperties(dst, s.Properties)
	for _, sub := range s.Subscriptions {
		dst = appendString(dst, sub.Filter)
		dst = append(dst, sub.Options)
	}
	return dst, nil
}

func decodeSubscribe(body []byte) (*SubscribePacket, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("buffer too short for packet id")
	}
	pkt := &SubscribePacket{PacketID: binary.BigEndian.Uint16(body)}
	off := 2

	props, n, err := decodeProperties(body[off:])
	if err != nil {
		return nil, fmt.Errorf("subscribe properties: %w", err)
	}
	pkt.Properties = props
	off += n

	for off < len(body) {
		filter, n, err := decodeString(body[off:])
		if err != nil {
			return nil, fmt.Errorf("topic filter: %w", err)
		}
		off += n
		if off >= len(body) {
			return nil, fmt.Errorf("buffer too short for subscription options")
		}
		pkt.Subscriptions = append(pkt.Subscriptions, Subscription{
			Filter:  filter,
			Options: body[off],
		})
		off++
	}
	if len(pkt.Subscriptions) == 0 {
		return nil, fmt.Errorf("subscribe packet with no subscriptions")
	}
	return pkt, nil
}

// UnsubscribePacket represents an UNSUBSCRIBE packet
type UnsubscribePacket struct {
	PacketID   uint16
	Properties []byte
	Filters    []string
}

func (u *UnsubscribePacket) Type() PacketType { return UNSUBSCRIBE }

func (u *UnsubscribePacket) Encode(dst []byte) ([]byte, error) {
	if len(u.Filters) == 0 {
		return nil, fmt.Errorf("unsubscribe packet with no filters")
	}
	remaining := 2 + varIntSize(len(u.Properties)) + len(u.Properties)
	for _, f := range u.Filters {
		remaining += 2 + len(f)
	}
	// UNSUBSCRIBE carries mandatory flag bits 0b0010.
	dst = appendFixedHeader(dst, UNSUBSCRIBE, 0x02, remaining)
	dst = binary.BigEndian.AppendUint16(dst, u.PacketID)
	dst = appendProperties(dst, u.Properties)
	for _, f := range u.Filters {
		dst = appendString(dst, f)
	}
	return dst, nil
}

func decodeUnsubscribe(body []byte) (*UnsubscribePacket, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("buffer too short for packet id")
	}
	pkt := &UnsubscribePacket{PacketID: binary.BigEndian.Uint16(body)}
	off := 2

	props, n, err := decodeProperties(body[off:])
	if err != nil {
		return nil, fmt.Errorf("unsubscribe properties: %w", err)
	}
	pkt.Properties = props
	off += n

	for off < len(body) {
		filter, n, err := decodeString(body[off:])
		if err != nil {
			return nil, fmt.Errorf("topic filter: %w", err)
		}
		pkt.Filters = append(pkt.Filters, filter)
		off += n
	}
	if len(pkt.Filters) == 0 {
		return nil, fmt.Errorf("unsubscribe packet with no filters")
	}
	return pkt, nil
}
