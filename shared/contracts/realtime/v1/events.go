package v1

import (
	"encoding/json"
	"fmt"
)

// InboundEvent is the closed set of client-originated event payloads.
//
// Decode returns exactly one concrete payload type per wire type, so
// dispatch sites can type-switch over the variants and the compiler keeps
// the set of handled kinds visible in one place. Adding a new inbound kind
// means adding a payload type here, a marker method, and a Decode case.
type InboundEvent interface {
	inboundEvent()
}

func (SendMessagePayload) inboundEvent()       {}
func (TypingStartPayload) inboundEvent()       {}
func (TypingStopPayload) inboundEvent()        {}
func (MarkMessagesReadPayload) inboundEvent()  {}
func (JoinConversationPayload) inboundEvent()  {}
func (LeaveConversationPayload) inboundEvent() {}

// Decode validates the envelope and unmarshals its payload into the
// concrete inbound event type for the envelope's wire type.
//
// Server-originated types are rejected: clients must never send them.
func Decode(e Envelope) (InboundEvent, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}

	switch e.Type {
	case TypeSendMessage:
		var p SendMessagePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", e.Type, err)
		}
		return p, nil

	case TypeTypingStart:
		var p TypingStartPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", e.Type, err)
		}
		return p, nil

	case TypeTypingStop:
		var p TypingStopPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", e.Type, err)
		}
		return p, nil

	case TypeMarkMessagesRead:
		var p MarkMessagesReadPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", e.Type, err)
		}
		return p, nil

	case TypeJoinConversation:
		var p JoinConversationPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", e.Type, err)
		}
		return p, nil

	case TypeLeaveConversation:
		var p LeaveConversationPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("invalid %s payload: %w", e.Type, err)
		}
		return p, nil

	default:
		return nil, fmt.Errorf("not a client event: %q", e.Type)
	}
}
