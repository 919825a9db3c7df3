package reconciler

import "fmt"

// Indicator is the single connection and activity label shown in the
// navigation bar.
type Indicator string

const (
	IndicatorDisconnected Indicator = "disconnected"
	IndicatorCoinjoin     Indicator = "coinjoin in progress"
	IndicatorMaker        Indicator = "maker running"
	IndicatorIdle         Indicator = "idle"
	IndicatorUnknown      Indicator = "unknown"
)

// Route names a view of the web UI.
type Route string

const (
	RouteHome         Route = "/"
	RouteCreateWallet Route = "create-wallet"
	RouteWallet       Route = "wallet"
	RouteSend         Route = "send"
	RouteEarn         Route = "earn"
	RouteReceive      Route = "receive"
	RouteSettings     Route = "settings"
)

// walletRoutes require a locally held wallet.
var walletRoutes = map[Route]bool{
	RouteWallet:   true,
	RouteSend:     true,
	RouteEarn:     true,
	RouteReceive:  true,
	RouteSettings: true,
}

// KnownRoute reports whether r names a view.
func KnownRoute(r Route) bool {
	return r == RouteHome || r == RouteCreateWallet || walletRoutes[r]
}

// Status projects the state for observers.
func (s State) Status() Status {
	st := Status{
		MakerRunning:       s.MakerRunning,
		CoinjoinInProcess:  s.CoinjoinInProcess,
		WebsocketConnected: s.WebsocketConnected,
		ConnectionError:    s.ConnectionError,
		MakerTransition:    s.MakerTransition,
	}
	if s.Wallet != nil {
		st.WalletName = s.Wallet.Name
		st.SessionActive = true
	}
	st.Indicator = indicatorFor(st)
	return st
}

func indicatorFor(s Status) Indicator {
	switch {
	case s.ConnectionError != "":
		return IndicatorDisconnected
	case s.CoinjoinInProcess.True():
		return IndicatorCoinjoin
	case s.MakerRunning.True():
		return IndicatorMaker
	case s.MakerRunning.Known() && s.CoinjoinInProcess.Known():
		return IndicatorIdle
	default:
		return IndicatorUnknown
	}
}

// RouteAllowed gates views. Home and wallet creation are reachable while the
// backend answers; wallet views also need a held wallet. No view is
// reachable while the backend is unreachable.
func (s Status) RouteAllowed(r Route) bool {
	if !KnownRoute(r) || s.ConnectionError != "" {
		return false
	}
	if walletRoutes[r] {
		return s.SessionActive
	}
	return true
}

// Banner returns the alert shown above every view, or "" when there is none.
func (s Status) Banner() string {
	if s.ConnectionError != "" {
		return fmt.Sprintf("No connection to backend: %s.", s.ConnectionError)
	}
	if s.CoinjoinInProcess.True() {
		return "A coinjoin is in progress. Wallet actions are limited until it completes."
	}
	return ""
}
