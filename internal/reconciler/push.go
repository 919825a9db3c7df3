package reconciler

import (
	"encoding/json"
)

// PushUpdate is the activity reported by a coinjoin_state push message.
type PushUpdate struct {
	MakerRunning      bool
	CoinjoinInProcess bool
}

// ParsePushMessage decodes a push frame. It reports false for frames that
// are not JSON objects or whose coinjoin_state is absent or not a number;
// those frames carry other notifications and leave state untouched.
func ParsePushMessage(payload []byte, codes StateCodes) (PushUpdate, bool) {
	var msg map[string]json.RawMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return PushUpdate{}, false
	}
	raw, ok := msg["coinjoin_state"]
	if !ok {
		return PushUpdate{}, false
	}
	var value *float64
	if err := json.Unmarshal(raw, &value); err != nil || value == nil {
		return PushUpdate{}, false
	}
	return PushUpdate{
		MakerRunning:      *value == float64(codes.Maker),
		CoinjoinInProcess: *value == float64(codes.Taker),
	}, true
}
