package bus

import (
	"encoding/json"
	"fmt"
)

// Envelope is the single wire format carried on service-messages topics.
// PayloadJSON is itself a JSON document of the type PayloadType names.
type Envelope struct {
	CorrelationID string `json:"correlationId"`
	SenderID      string `json:"senderId"`
	TargetID      string `json:"targetId"`
	PayloadType   string `json:"payloadType"`
	PayloadJSON   string `json:"payloadJson"`
}

func newEnvelope(correlationID, sender string, to Address, p Payload) (Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", p.PayloadType(), err)
	}
	return Envelope{
		CorrelationID: correlationID,
		SenderID:      sender,
		TargetID:      to.Wire(),
		PayloadType:   p.PayloadType(),
		PayloadJSON:   string(raw),
	}, nil
}

// Target parses the envelope's target id.
func (e Envelope) Target() Address {
	return ParseAddress(e.TargetID)
}

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.CorrelationID == "" || env.TargetID == "" || env.PayloadType == "" {
		return Envelope{}, fmt.Errorf("decode envelope: missing routing fields")
	}
	return env, nil
}

func encodeEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
