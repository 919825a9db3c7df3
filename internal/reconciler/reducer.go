package reconciler

import (
	"github.com/abhiShandy/joinmarket-webui/internal/actor"
)

// Reduce is the reconciler's pure transition function.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	switch in := input.(type) {
	case cmdStart:
		return onStart(state, in)
	case cmdSetWallet:
		return onSetWallet(state, in.Wallet)
	case cmdMarkMaker:
		return onMarkMaker(state, in.Transition), nil
	case cmdRefresh:
		if !state.Started {
			return state, nil
		}
		return state, []actor.Effect{effPollOnce{Gen: state.Gen}}
	case evPollSucceeded:
		return onPollSucceeded(state, in)
	case evPollFailed:
		return onPollFailed(state, in)
	case evSessionRestored:
		return onSessionRestored(state, in)
	case evPushMessage:
		return onPushMessage(state, in), nil
	case evPushConnection:
		state.WebsocketConnected = in.Connected
		return state, nil
	default:
		return state, nil
	}
}

func onStart(state State, in cmdStart) (State, []actor.Effect) {
	if state.Started {
		return state, nil
	}
	state.Started = true
	var effects []actor.Effect
	if in.Restored != nil && state.Wallet == nil {
		w := *in.Restored
		state.Wallet = &w
		effects = append(effects, effAuthenticatePush{Token: w.Token})
	}
	state.Gen++
	effects = append(effects, effRestartPolling{Gen: state.Gen})
	return state, effects
}

// onSetWallet switches the held wallet. A new identity restarts the poll
// cycle so in-flight responses for the old wallet are cancelled.
//
// Clearing with no wallet held still clears the store: a poll failure drops
// the wallet from memory but keeps it persisted for restore.
func onSetWallet(state State, wallet *WalletSession) (State, []actor.Effect) {
	if wallet == nil && state.Wallet == nil {
		state.MakerTransition = MakerIdle
		return restartPolling(state, []actor.Effect{effClearSession{}, effAuthenticatePush{}})
	}
	if sameWallet(state.Wallet, wallet) {
		return state, nil
	}

	var effects []actor.Effect
	if wallet == nil {
		effects = append(effects, effClearSession{Name: state.Wallet.Name}, effAuthenticatePush{})
		state.Wallet = nil
		state.MakerTransition = MakerIdle
	} else {
		w := *wallet
		state.Wallet = &w
		effects = append(effects, effPersistSession{Wallet: w}, effAuthenticatePush{Token: w.Token})
	}
	return restartPolling(state, effects)
}

func restartPolling(state State, effects []actor.Effect) (State, []actor.Effect) {
	state.Gen++
	if state.Started {
		effects = append(effects, effRestartPolling{Gen: state.Gen})
	}
	return state, effects
}

func onPollSucceeded(state State, in evPollSucceeded) (State, []actor.Effect) {
	if in.Gen != state.Gen {
		return state, nil
	}

	state.ConnectionError = ""
	state.MakerRunning = FlagOf(in.Info.MakerRunning)
	state.CoinjoinInProcess = FlagOf(in.Info.CoinjoinInProcess)
	// Both activities come from one backend state; a coinjoin in progress
	// wins if a response ever claims both.
	if state.CoinjoinInProcess.True() && state.MakerRunning.True() {
		state.MakerRunning = FlagFalse
	}
	state.MakerTransition = resolveTransition(state.MakerTransition, state.MakerRunning)

	active := in.Info.ActiveWallet()
	if state.Wallet != nil {
		if active == "" || active != state.Wallet.Name {
			stale := state.Wallet.Name
			state.Wallet = nil
			state.MakerTransition = MakerIdle
			return restartPolling(state, []actor.Effect{effClearSession{Name: stale}, effAuthenticatePush{}})
		}
		return state, nil
	}
	if active != "" {
		return state, []actor.Effect{effRestoreSession{Gen: state.Gen, Name: active}}
	}
	return state, nil
}

// onSessionRestored adopts a stored session unless the wallet changed since
// the restore was requested.
func onSessionRestored(state State, in evSessionRestored) (State, []actor.Effect) {
	if in.Gen != state.Gen || state.Wallet != nil {
		return state, nil
	}
	w := in.Wallet
	return onSetWallet(state, &w)
}

// onPollFailed drops everything derived from the backend. The persisted
// session is kept so it can be re-adopted once the backend is reachable and
// still reports the same wallet.
func onPollFailed(state State, in evPollFailed) (State, []actor.Effect) {
	if in.Gen != state.Gen {
		return state, nil
	}

	state.ConnectionError = in.Err
	if state.ConnectionError == "" {
		state.ConnectionError = "unknown error"
	}
	state.MakerRunning = FlagUnknown
	state.CoinjoinInProcess = FlagUnknown
	state.MakerTransition = MakerIdle

	if state.Wallet == nil {
		return state, nil
	}
	state.Wallet = nil
	return restartPolling(state, []actor.Effect{effAuthenticatePush{}})
}

func onPushMessage(state State, in evPushMessage) State {
	update, ok := ParsePushMessage(in.Payload, state.Codes)
	if !ok {
		return state
	}
	state.MakerRunning = FlagOf(update.MakerRunning)
	state.CoinjoinInProcess = FlagOf(update.CoinjoinInProcess)
	state.MakerTransition = resolveTransition(state.MakerTransition, state.MakerRunning)
	return state
}

func onMarkMaker(state State, t MakerTransition) State {
	state.MakerTransition = resolveTransition(t, state.MakerRunning)
	return state
}

// resolveTransition clears a pending transition once the backend reports the
// requested maker state.
func resolveTransition(t MakerTransition, makerRunning Flag) MakerTransition {
	switch {
	case t == MakerStarting && makerRunning == FlagTrue:
		return MakerIdle
	case t == MakerStopping && makerRunning == FlagFalse:
		return MakerIdle
	default:
		return t
	}
}

func sameWallet(a, b *WalletSession) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
