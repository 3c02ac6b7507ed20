package mqtt

import (
	"encoding/binary"
	"fmt"
)

// ConnectPacket represents a CONNECT packet
type ConnectPacket struct {
	ProtocolName    string
	ProtocolVersion byte
	CleanStart      bool
	WillFlag        bool
	WillQoS         byte
	WillRetain      bool
	PasswordFlag    bool
	UsernameFlag    bool
	KeepAlive       uint16
	Properties      []byte
	ClientID        string
	WillProperties  []byte
	WillTopic       string
	WillPayload     []byte
	Username        string
	Password        []byte
}

func (c *ConnectPacket) Type() PacketType { return CONNECT }

func (c *ConnectPacket) flags() byte {
	var f byte
	if c.UsernameFlag {
		f |= 0x80
	}
	if c.PasswordFlag {
		f |= 0x40
	}
	if c.WillRetain {
		f |= 0x20
	}
	f |= (c.WillQoS & 0x03) << 3
	if c.WillFlag {
		f |= 0x04
	}
	if c.CleanStart {
		f |= 0x02
	}
	return f
}

// Encode serializes the CONNECT packet into dst.
func (c *ConnectPacket) Encode(dst []byte) ([]byte, error) {
	remaining := 2 + len(c.ProtocolName) + 1 + 1 + 2 +
		varIntSize(len(c.Properties)) + len(c.Properties) +
		2 + len(c.ClientID)
	if c.WillFlag {
		remaining += varIntSize(len(c.WillProperties)) + len(c.WillProperties) +
			2 + len(c.WillTopic) + 2 + len(c.WillPayload)
	}
	if c.UsernameFlag {
		remaining += 2 + len(c.Username)
	}
	if c.PasswordFlag {
		remaining += 2 + len(c.Password)
	}

	dst = appendFixedHeader(dst, CONNECT, 0, remaining)
	dst = appendString(dst, c.ProtocolName)
	dst = append(dst, c.ProtocolVersion, c.flags())
	dst = binary.BigEndian.AppendUint16(dst, c.KeepAlive)
	dst = appendProperties(dst, c.Properties)
	dst = appendString(dst, c.ClientID)
	if c.WillFlag {
		dst = appendProperties(dst, c.WillProperties)
		dst = appendString(dst, c.WillTopic)
		dst = appendBinary(dst, c.WillPayload)
	}
	if c.UsernameFlag {
		dst = appendString(dst, c.Username)
	}
	if c.PasswordFlag {
		dst = appendBinary(dst, c.Password)
	}
	return dst, nil
}

func decodeConnect(body []byte) (*ConnectPacket, error) {
	pkt := &ConnectPacket{}
	off := 0

	name, n, err := decodeString(body)
	if err != nil {
		return nil, fmt.Errorf("protocol name: %w", err)
	}
	pkt.ProtocolName = name
	off += n

	if len(body) < off+4 {
		return nil, fmt.Errorf("buffer too short for connect header")
	}
	pkt.ProtocolVersion = body[off]
	flags := body[off+1]
	pkt.UsernameFlag = flags&0x80 != 0
	pkt.PasswordFlag = flags&0x40 != 0
	pkt.WillRetain = flags&0x20 != 0
	pkt.WillQoS = (flags >> 3) & 0x03
	pkt.WillFlag = flags&0x04 != 0
	pkt.CleanStart = flags&0x02 != 0
	pkt.KeepAlive = binary.BigEndian.Uint16(body[off+2:])
	off += 4

	props, n, err := decodeProperties(body[off:])
	if err != nil {
		return nil, fmt.Errorf("connect properties: %w", err)
	}
	pkt.Properties = props
	off += n

	id, n, err := decodeString(body[off:])
	if err != nil {
		return nil, fmt.Errorf("client id: %w", err)
	}
	pkt.ClientID = id
	off += n

	if pkt.WillFlag {
		wprops, n, err := decodeProperties(body[off:])
		if err != nil {
			return nil, fmt.Errorf("will properties: %w", err)
		}
		pkt.WillProperties = wprops
		off += n

		topic, n, err := decodeString(body[off:])
		if err != nil {
			return nil, fmt.Errorf("will topic: %w", err)
		}
		pkt.WillTopic = topic
		off += n

		payload, n, err := decodeBinary(body[off:])
		if err != nil {
			return nil, fmt.Errorf("will payload: %w", err)
		}
		pkt.WillPayload = payload
		off += n
	}

	if pkt.UsernameFlag {
		user, n, err := decodeString(body[off:])
		if err != nil {
			return nil, fmt.Errorf("username: %w", err)
		}
		pkt.Username = user
		off += n
	}

	if pkt.PasswordFlag {
		pass, _, err := decodeBinary(body[off:])
		if err != nil {
			return nil, fmt.Errorf("password: %w", err)
		}
		pkt.Password = pass
	}

	return pkt, nil
}

// ConnackPacket represents a CONNACK packet
type ConnackPacket struct {
	SessionPresent bool
	ReasonCode     ReasonCode
	Properties     []byte
}

func (c *ConnackPacket) Type() PacketType { return CONNACK }

func (c *ConnackPacket) Encode(dst []byte) ([]byte, error) {
	remaining := 2 + varIntSize(len(c.Properties)) + len(c.Properties)
	dst = appendFixedHeader(dst, CONNACK, 0, remaining)
	var ack byte
	if c.SessionPresent {
		ack = 1
	}
	dst = append(dst, ack, byte(c.ReasonCode))
	return appendProperties(dst, c.Properties), nil
}

func decodeConnack(body []byte) (*ConnackPacket, error) {
	if len(body) < 2 {
		return nil, fmt.Errorf("buffer too short for connack")
	}
	pkt := &ConnackPacket{
		SessionPresent: body[0]&0x01 != 0,
		ReasonCode:     ReasonCode(body[1]),
	}
	props, _, err := decodeProperties(body[2:])
	if err != nil {
		return nil, fmt.Errorf("connack properties: %w", err)
	}
	pkt.Properties = props
	return pkt, nil
}
