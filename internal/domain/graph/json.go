package graph

import (
	"encoding/json"
	"fmt"
)

type nodeJSON struct {
	ID    string          `json:"id"`
	Kind  Kind            `json:"kind"`
	Label string          `json:"label,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// MarshalJSON encodes the node with its kind next to the data payload
func (n Node) MarshalJSON() ([]byte, error) {
	out := nodeJSON{ID: n.ID, Kind: n.Kind(), Label: n.Label}
	if n.Data != nil {
		data, err := json.Marshal(n.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal node %s data: %w", n.ID, err)
		}
		out.Data = data
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the data payload into the variant named by kind
func (n *Node) UnmarshalJSON(b []byte) error {
	var in nodeJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	data, err := decodeData(in.Kind, in.Data)
	if err != nil {
		return fmt.Errorf("node %s: %w", in.ID, err)
	}

	n.ID = in.ID
	n.Label = in.Label
	n.Data = data
	return nil
}

func decodeData(kind Kind, raw json.RawMessage) (NodeData, error) {
	switch kind {
	case KindStart:
		return StartData{}, nil
	case KindApproval:
		var d ApprovalData
		if err := unmarshalOptional(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case KindCondition:
		var d ConditionData
		if err := unmarshalOptional(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case KindNotify:
		var d NotifyData
		if err := unmarshalOptional(raw, &d); err != nil {
			return nil, err
		}
		return d, nil
	case KindPayment:
		return PaymentData{}, nil
	case KindEnd:
		return EndData{}, nil
	default:
		return nil, fmt.Errorf("unknown node kind %q", kind)
	}
}

func unmarshalOptional(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	return nil
}
