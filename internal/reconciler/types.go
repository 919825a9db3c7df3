package reconciler

import (
	"encoding/json"
	"fmt"

	"github.com/abhiShandy/joinmarket-webui/internal/actor"
	"github.com/abhiShandy/joinmarket-webui/internal/jmapi"
)

// Flag is a tri-state boolean. Unknown means no poll or push update has been
// observed since start or since the last failure.
type Flag int8

const (
	FlagUnknown Flag = iota
	FlagFalse
	FlagTrue
)

// FlagOf converts a known boolean.
func FlagOf(b bool) Flag {
	if b {
		return FlagTrue
	}
	return FlagFalse
}

// True reports whether the flag is known to be true.
func (f Flag) True() bool { return f == FlagTrue }

// Known reports whether the flag has been observed.
func (f Flag) Known() bool { return f != FlagUnknown }

func (f Flag) String() string {
	switch f {
	case FlagTrue:
		return "true"
	case FlagFalse:
		return "false"
	default:
		return "unknown"
	}
}

// MarshalJSON encodes Unknown as null.
func (f Flag) MarshalJSON() ([]byte, error) {
	switch f {
	case FlagTrue:
		return []byte("true"), nil
	case FlagFalse:
		return []byte("false"), nil
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts true, false or null.
func (f *Flag) UnmarshalJSON(data []byte) error {
	var b *bool
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("invalid flag %s: %w", data, err)
	}
	if b == nil {
		*f = FlagUnknown
		return nil
	}
	*f = FlagOf(*b)
	return nil
}

// WalletSession is the locally held wallet: its name and access token.
type WalletSession struct {
	Name  string
	Token string
}

// MakerTransition marks a maker start or stop requested by the user that the
// backend has not confirmed yet.
type MakerTransition string

const (
	MakerIdle     MakerTransition = ""
	MakerStarting MakerTransition = "starting"
	MakerStopping MakerTransition = "stopping"
)

// StateCodes maps the numeric coinjoin_state values of push messages.
// Values that match neither code mean neither activity is running.
type StateCodes struct {
	Taker int
	Maker int
}

// DefaultStateCodes is the wallet service encoding: 0 taker running,
// 1 maker running, 2 nothing running.
var DefaultStateCodes = StateCodes{Taker: 0, Maker: 1}

// State is owned by the reconciler actor. It is comparable; two states are
// equal exactly when nothing observable differs.
type State struct {
	Codes StateCodes

	// Wallet is nil when no wallet is held locally.
	Wallet             *WalletSession
	MakerRunning       Flag
	CoinjoinInProcess  Flag
	WebsocketConnected bool
	// ConnectionError is the message of the last failed poll, cleared by the
	// next successful one.
	ConnectionError string
	MakerTransition MakerTransition

	// Gen identifies the current poll cycle. It changes whenever the held
	// wallet changes; completions from older cycles are dropped.
	Gen     uint64
	Started bool
}

// Status is the read-only projection handed to observers. It carries no
// token and is comparable.
type Status struct {
	WalletName         string          `json:"walletName,omitempty"`
	SessionActive      bool            `json:"sessionActive"`
	MakerRunning       Flag            `json:"makerRunning"`
	CoinjoinInProcess  Flag            `json:"coinjoinInProcess"`
	WebsocketConnected bool            `json:"websocketConnected"`
	ConnectionError    string          `json:"connectionError,omitempty"`
	MakerTransition    MakerTransition `json:"makerTransition,omitempty"`
	Indicator          Indicator       `json:"indicator"`
}

// Connected reports whether the last poll succeeded.
func (s Status) Connected() bool { return s.ConnectionError == "" }

// Commands.

type cmdStart struct {
	actor.InputBase
	Restored *WalletSession
}

type cmdSetWallet struct {
	actor.InputBase
	Wallet *WalletSession
}

type cmdMarkMaker struct {
	actor.InputBase
	Transition MakerTransition
}

type cmdRefresh struct {
	actor.InputBase
}

// Events.

type evPollSucceeded struct {
	actor.InputBase
	Gen  uint64
	Info jmapi.SessionInfo
}

type evPollFailed struct {
	actor.InputBase
	Gen uint64
	Err string
}

// evSessionRestored carries a stored session loaded for poll cycle Gen.
type evSessionRestored struct {
	actor.InputBase
	Gen    uint64
	Wallet WalletSession
}

type evPushMessage struct {
	actor.InputBase
	Payload []byte
}

type evPushConnection struct {
	actor.InputBase
	Connected bool
	Reason    string
}

// Effects.

// effRestartPolling cancels the running poll cycle and starts a new one that
// polls immediately and then on every interval.
type effRestartPolling struct {
	actor.EffectBase
	Gen uint64
}

// effPollOnce requests an extra poll within the current cycle.
type effPollOnce struct {
	actor.EffectBase
	Gen uint64
}

type effPersistSession struct {
	actor.EffectBase
	Wallet WalletSession
}

// effClearSession removes the persisted session if it still belongs to Name.
type effClearSession struct {
	actor.EffectBase
	Name string
}

// effRestoreSession asks the runtime to re-adopt the persisted session when
// it names the wallet the backend reports as active.
type effRestoreSession struct {
	actor.EffectBase
	Gen  uint64
	Name string
}

type effAuthenticatePush struct {
	actor.EffectBase
	Token string
}
