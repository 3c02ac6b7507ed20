package broker

import (
	"errors"

	"github.com/spindlemq/spindle/internal/mqtt"
)

var (
	// ErrTopicTooLong reports a topic or filter over MaxTopicLength.
	ErrTopicTooLong = errors.New("broker: topic too long")
	// ErrTopicsFull reports a full topic table.
	ErrTopicsFull = errors.New("broker: topic table full")
	// ErrMessageTooLong reports a PUBLISH that does not fit a Message buffer.
	ErrMessageTooLong = errors.New("broker: message too long")
	// ErrQueueFull reports a full outbound queue. Unreachable while the
	// publish-lock invariant holds; seeing it means a bug.
	ErrQueueFull = errors.New("broker: queue full")
	// ErrUnexpectedPacket reports a packet the broker does not accept in the
	// connected state.
	ErrUnexpectedPacket = errors.New("broker: unexpected packet")
)

// DisconnectReason maps a broker error to the DISCONNECT reason code sent to
// the offending client.
func DisconnectReason(err error) mqtt.ReasonCode {
	switch {
	case errors.Is(err, ErrTopicTooLong):
		return mqtt.ReasonTopicNameInvalid
	case errors.Is(err, ErrMessageTooLong):
		return mqtt.ReasonPacketTooLarge
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrTopicsFull):
		return mqtt.ReasonReceiveMaximumExceeded
	case errors.Is(err, ErrUnexpectedPacket):
		return mqtt.ReasonProtocolError
	default:
		return mqtt.ReasonUnspecifiedError
	}
}

// SubackReason maps a broker error to the per-subscription SUBACK reason code.
func SubackReason(err error) mqtt.ReasonCode {
	switch {
	case err == nil:
		return mqtt.ReasonGrantedQoS0
	case errors.Is(err, ErrTopicTooLong):
		return mqtt.ReasonTopicFilterInvalid
	case errors.Is(err, ErrTopicsFull), errors.Is(err, ErrQueueFull):
		return mqtt.ReasonQuotaExceeded
	case errors.Is(err, ErrUnexpectedPacket):
		return mqtt.ReasonImplementationSpecificError
	default:
		return mqtt.ReasonUnspecifiedError
	}
}
