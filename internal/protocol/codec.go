package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type outEnvelope struct {
	Type Type `json:"type"`
	Data any  `json:"data"`
}

type inEnvelope struct {
	Type    Type            `json:"type"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

// MalformedError reports an inbound payload that is not a JSON frame object.
type MalformedError struct {
	Err error
}

func (e *MalformedError) Error() string { return fmt.Sprintf("malformed frame: %v", e.Err) }
func (e *MalformedError) Unwrap() error { return e.Err }

// Encode serializes an outbound frame.
func Encode(f Outbound) ([]byte, error) {
	data := f.payload()
	if tp, ok := data.(TargetPose); ok && tp.Tips == nil {
		tp.Tips = []string{}
		data = tp
	}
	return sonic.Marshal(outEnvelope{Type: f.Type(), Data: data})
}

// Decode parses one inbound frame. Unknown types and payloads failing
// validation return Ignored with a nil error; only input that is not a
// JSON object returns *MalformedError.
func Decode(raw []byte) (Inbound, error) {
	var env inEnvelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, &MalformedError{Err: err}
	}

	switch env.Type {
	case TypeAudio:
		var f AudioChunk
		if err := decodeString(env.Data, &f.Data); err != nil {
			return Ignored{Type: env.Type, Reason: err.Error()}, nil
		}
		if err := validate.Struct(f); err != nil {
			return Ignored{Type: env.Type, Reason: err.Error()}, nil
		}
		return f, nil

	case TypeText:
		var f Text
		if err := decodeString(env.Data, &f.Data); err != nil {
			return Ignored{Type: env.Type, Reason: err.Error()}, nil
		}
		return f, nil

	case TypeError:
		msg := env.Message
		if msg == "" {
			// tolerate {"type":"error","data":"..."}
			_ = decodeString(env.Data, &msg)
		}
		return Error{Message: msg}, nil

	case TypeCoachState:
		var u CoachStateUpdate
		if len(env.Data) == 0 {
			return Ignored{Type: env.Type, Reason: "missing data"}, nil
		}
		if err := sonic.Unmarshal(env.Data, &u); err != nil {
			return Ignored{Type: env.Type, Reason: err.Error()}, nil
		}
		if err := validate.Struct(u); err != nil {
			return Ignored{Type: env.Type, Reason: err.Error()}, nil
		}
		return CoachState{Update: u}, nil

	default:
		return Ignored{Type: env.Type, Reason: "unknown type"}, nil
	}
}

func decodeString(raw json.RawMessage, dst *string) error {
	if len(raw) == 0 {
		return fmt.Errorf("missing data")
	}
	return sonic.Unmarshal(raw, dst)
}
