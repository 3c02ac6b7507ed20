package mqtt

// ReasonCode represents an MQTT 5.0 reason code
type ReasonCode byte

const (
	ReasonSuccess               ReasonCode = 0x00
	ReasonNormalDisconnection   ReasonCode = 0x00
	ReasonGrantedQoS0           ReasonCode = 0x00
	ReasonGrantedQoS1           ReasonCode = 0x01
	ReasonNoMatchingSubscribers ReasonCode = 0x10

	ReasonUnspecifiedError            ReasonCode = 0x80
	ReasonMalformedPacket             ReasonCode = 0x81
	ReasonProtocolError               ReasonCode = 0x82
	ReasonImplementationSpecificError ReasonCode = 0x83
	ReasonUnsupportedProtocolVersion  ReasonCode = 0x84
	ReasonNotAuthorized               ReasonCode = 0x87
	ReasonServerBusy                  ReasonCode = 0x89
	ReasonKeepAliveTimeout            ReasonCode = 0x8D
	ReasonTopicFilterInvalid          ReasonCode = 0x8F
	ReasonTopicNameInvalid            ReasonCode = 0x90
	ReasonReceiveMaximumExceeded      ReasonCode = 0x93
	ReasonPacketTooLarge              ReasonCode = 0x95
	ReasonQuotaExceeded               ReasonCode = 0x97
	ReasonQoSNotSupported             ReasonCode = 0x9B
)
