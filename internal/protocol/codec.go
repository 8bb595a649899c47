package protocol

import (
	"encoding/json"
	"fmt"
)

// KeepAliveFrame is the payload clients send to keep an idle connection open.
const KeepAliveFrame = "0"

type envelope struct {
	Type string          `json:"t"`
	Data json.RawMessage `json:"d"`
}

type dataEnvelope struct {
	RequestNumber *int            `json:"r,omitempty"`
	Action        string          `json:"a,omitempty"`
	Body          json.RawMessage `json:"b,omitempty"`
}

type controlEnvelope struct {
	Type string          `json:"t"`
	Data json.RawMessage `json:"d,omitempty"`
}

// EncodeRequest renders req as the numbered data frame sent to the server.
func EncodeRequest(num int, req Request) ([]byte, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(req.Body)
	if err != nil {
		return nil, err
	}
	return encodeEnvelope(frameTypeData, dataEnvelope{
		RequestNumber: &num,
		Action:        req.Action,
		Body:          body,
	})
}

// EncodeMessage renders an inbound message. Servers and test doubles use it.
func EncodeMessage(msg Message) ([]byte, error) {
	body, err := json.Marshal(msg.Body)
	if err != nil {
		return nil, err
	}
	return encodeEnvelope(frameTypeData, dataEnvelope{
		RequestNumber: msg.RequestNumber,
		Action:        msg.Action,
		Body:          body,
	})
}

// EncodeControl renders a control frame carrying payload.
func EncodeControl(controlType string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	return encodeEnvelope(frameTypeControl, controlEnvelope{Type: controlType, Data: data})
}

func EncodeHandshake(h Handshake) ([]byte, error) {
	return EncodeControl(ControlHandshake, h)
}

// DecodeFrame parses one complete inbound frame.
func DecodeFrame(raw []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	switch env.Type {
	case frameTypeData:
		msg, err := decodeData(env.Data)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Data: &msg}, nil
	case frameTypeControl:
		ctrl, err := decodeControl(env.Data)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Control: &ctrl}, nil
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnexpectedFrame, env.Type)
	}
}

func decodeData(raw json.RawMessage) (Message, error) {
	var data dataEnvelope
	if err := json.Unmarshal(raw, &data); err != nil {
		return Message{}, fmt.Errorf("%w: data: %v", ErrInvalidFrame, err)
	}
	msg := Message{RequestNumber: data.RequestNumber, Action: data.Action}
	if len(data.Body) > 0 {
		if err := json.Unmarshal(data.Body, &msg.Body); err != nil {
			return Message{}, fmt.Errorf("%w: body: %v", ErrInvalidFrame, err)
		}
	}
	return msg, nil
}

func decodeControl(raw json.RawMessage) (Control, error) {
	var data controlEnvelope
	if err := json.Unmarshal(raw, &data); err != nil {
		return Control{}, fmt.Errorf("%w: control: %v", ErrInvalidFrame, err)
	}
	ctrl := Control{Type: data.Type, Payload: data.Data}
	if data.Type != ControlHandshake {
		return ctrl, nil
	}
	var h Handshake
	if err := json.Unmarshal(data.Data, &h); err != nil {
		return Control{}, fmt.Errorf("%w: handshake: %v", ErrInvalidFrame, err)
	}
	if h.SessionID == "" && h.Timestamp == 0 {
		return Control{}, ErrMissingHandshake
	}
	ctrl.Handshake = &h
	return ctrl, nil
}

func encodeEnvelope(frameType string, inner any) ([]byte, error) {
	data, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: frameType, Data: data})
}
