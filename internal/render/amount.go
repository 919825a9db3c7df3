package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// FormatSats renders a satoshi amount as BTC with eight decimals.
func FormatSats(sats int64) string {
	return strconv.FormatFloat(btcutil.Amount(sats).ToBTC(), 'f', 8, 64) + " BTC"
}

// FormatBTC normalizes a BTC decimal string as reported by the wallet
// service. Unparseable input is returned unchanged.
func FormatBTC(raw string) string {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return raw
	}
	amt, err := btcutil.NewAmount(v)
	if err != nil {
		return raw
	}
	return FormatSats(int64(amt))
}

// ParseAmount reads a satoshi amount. Plain integers are sats; a "btc"
// suffix reads a BTC decimal ("0.001btc").
func ParseAmount(raw string) (int64, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	if btc, ok := strings.CutSuffix(s, "btc"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(btc), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid BTC amount %q: %w", raw, err)
		}
		amt, err := btcutil.NewAmount(v)
		if err != nil {
			return 0, fmt.Errorf("invalid BTC amount %q: %w", raw, err)
		}
		if amt < 0 {
			return 0, fmt.Errorf("amount %q is negative", raw)
		}
		return int64(amt), nil
	}

	sats, err := strconv.ParseInt(strings.TrimSuffix(s, "sats"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid sat amount %q: %w", raw, err)
	}
	if sats < 0 {
		return 0, fmt.Errorf("amount %q is negative", raw)
	}
	return sats, nil
}
