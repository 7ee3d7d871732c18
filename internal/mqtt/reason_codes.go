package mqtt

import "fmt"

// ReasonCode is an MQTT 5 reason code. The v3 CONNACK return codes share the
// low values and are listed separately.
type ReasonCode byte

const (
	Success                     ReasonCode = 0x00
	NormalDisconnection         ReasonCode = 0x00
	GrantedQoS0                 ReasonCode = 0x00
	NoMatchingSubscribers       ReasonCode = 0x10
	NoSubscriptionExisted       ReasonCode = 0x11
	ContinueAuthentication      ReasonCode = 0x18
	UnspecifiedError            ReasonCode = 0x80
	MalformedPacket             ReasonCode = 0x81
	ProtocolError               ReasonCode = 0x82
	ImplementationSpecificError ReasonCode = 0x83
	UnsupportedProtocolVersion  ReasonCode = 0x84
	ClientIdentifierNotValid    ReasonCode = 0x85
	BadUserNameOrPassword       ReasonCode = 0x86
	NotAuthorized               ReasonCode = 0x87
	ServerUnavailable           ReasonCode = 0x88
	ServerBusy                  ReasonCode = 0x89
	BadAuthenticationMethod     ReasonCode = 0x8C
	KeepAliveTimeout            ReasonCode = 0x8D
	SessionTakenOver            ReasonCode = 0x8E
	TopicFilterInvalid          ReasonCode = 0x8F
	TopicNameInvalid            ReasonCode = 0x90
	PacketIdentifierInUse       ReasonCode = 0x91
	PacketIdentifierNotFound    ReasonCode = 0x92
	PacketTooLarge              ReasonCode = 0x95
	QuotaExceeded               ReasonCode = 0x97
	PayloadFormatInvalid        ReasonCode = 0x99
	QoSNotSupported             ReasonCode = 0x9B
	SharedSubNotSupported       ReasonCode = 0x9E
	WildcardSubNotSupported     ReasonCode = 0xA2
)

var reasonCodeNames = map[ReasonCode]string{
	Success:                     "Success",
	NoMatchingSubscribers:       "NoMatchingSubscribers",
	NoSubscriptionExisted:       "NoSubscriptionExisted",
	ContinueAuthentication:      "ContinueAuthentication",
	UnspecifiedError:            "UnspecifiedError",
	MalformedPacket:             "MalformedPacket",
	ProtocolError:               "ProtocolError",
	ImplementationSpecificError: "ImplementationSpecificError",
	UnsupportedProtocolVersion:  "UnsupportedProtocolVersion",
	ClientIdentifierNotValid:    "ClientIdentifierNotValid",
	BadUserNameOrPassword:       "BadUserNameOrPassword",
	NotAuthorized:               "NotAuthorized",
	ServerUnavailable:           "ServerUnavailable",
	ServerBusy:                  "ServerBusy",
	BadAuthenticationMethod:     "BadAuthenticationMethod",
	KeepAliveTimeout:            "KeepAliveTimeout",
	SessionTakenOver:            "SessionTakenOver",
	TopicFilterInvalid:          "TopicFilterInvalid",
	TopicNameInvalid:            "TopicNameInvalid",
	PacketIdentifierInUse:       "PacketIdentifierInUse",
	PacketIdentifierNotFound:    "PacketIdentifierNotFound",
	PacketTooLarge:              "PacketTooLarge",
	QuotaExceeded:               "QuotaExceeded",
	PayloadFormatInvalid:        "PayloadFormatInvalid",
	QoSNotSupported:             "QoSNotSupported",
	SharedSubNotSupported:       "SharedSubNotSupported",
	WildcardSubNotSupported:     "WildcardSubNotSupported",
}

func (rc ReasonCode) String() string {
	if name, ok := reasonCodeNames[rc]; ok {
		return name
	}
	return fmt.Sprintf("ReasonCode(0x%02X)", byte(rc))
}

// IsError reports whether rc signals failure.
func (rc ReasonCode) IsError() bool {
	return rc >= 0x80
}

// ConnectReturnCode is the v3.1.1 CONNACK return code.
type ConnectReturnCode byte

const (
	ConnectAccepted ConnectReturnCode = iota
	ConnectRefusedUnacceptableProtocolVersion
	ConnectRefusedIdentifierRejected
	ConnectRefusedServerUnavailable
	ConnectRefusedBadUserNameOrPassword
	ConnectRefusedNotAuthorized
)

// SubackFailure is the v3.1.1 SUBACK failure return code.
const SubackFailure byte = 0x80
