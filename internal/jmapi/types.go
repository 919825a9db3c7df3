package jmapi

import (
	"fmt"
	"strings"
)

// noWalletName is what the wallet service reports in wallet_name when no
// wallet is unlocked.
const noWalletName = "None"

// SessionInfo is the body of GET /session.
type SessionInfo struct {
	// Session is true when the service holds an unlocked wallet.
	Session bool `json:"session"`
	// MakerRunning reports whether the yield generator is running.
	MakerRunning bool `json:"maker_running"`
	// CoinjoinInProcess reports whether a taker coinjoin is running.
	CoinjoinInProcess bool `json:"coinjoin_in_process"`
	// WalletName is the active wallet, or "None".
	WalletName string `json:"wallet_name"`
}

// ActiveWallet returns the active wallet name, or "" when the service reports
// no wallet.
func (s SessionInfo) ActiveWallet() string {
	name := strings.TrimSpace(s.WalletName)
	if name == noWalletName {
		return ""
	}
	return name
}

// Auth identifies an unlocked wallet for wallet-scoped endpoints.
type Auth struct {
	WalletName string
	Token      string
}

func (a Auth) validate() error {
	if strings.TrimSpace(a.WalletName) == "" || strings.TrimSpace(a.Token) == "" {
		return ErrNoWallet
	}
	return nil
}

type walletList struct {
	Wallets []string `json:"wallets"`
}

// UnlockResponse is returned by a successful unlock.
type UnlockResponse struct {
	WalletName string `json:"walletname"`
	Token      string `json:"token"`
}

// LockResponse is returned by lock.
type LockResponse struct {
	WalletName    string `json:"walletname"`
	AlreadyLocked bool   `json:"already_locked"`
}

// WalletInfo is the wallet summary from GET /wallet/{name}/display. Balances
// are BTC decimal strings as reported by the service.
type WalletInfo struct {
	WalletName   string    `json:"wallet_name"`
	TotalBalance string    `json:"total_balance"`
	Accounts     []Account `json:"accounts"`
}

// Account is one mixdepth of a wallet.
type Account struct {
	Account        string   `json:"account"`
	AccountBalance string   `json:"account_balance"`
	Branches       []Branch `json:"branches"`
}

// Branch is an external or internal address branch of an account.
type Branch struct {
	Branch  string  `json:"branch"`
	Balance string  `json:"balance"`
	Entries []Entry `json:"entries"`
}

// Entry is a single address row.
type Entry struct {
	HDPath    string `json:"hd_path"`
	Address   string `json:"address"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
	Label     string `json:"label,omitempty"`
	Extradata string `json:"extradata,omitempty"`
}

type displayResponse struct {
	WalletName string     `json:"walletname"`
	WalletInfo WalletInfo `json:"walletinfo"`
}

// UTXO is a wallet output from GET /wallet/{name}/utxos. Value is in sats.
type UTXO struct {
	UTXO           string `json:"utxo"`
	Address        string `json:"address"`
	Value          int64  `json:"value"`
	Tries          int    `json:"tries"`
	TriesRemaining int    `json:"tries_remaining"`
	External       bool   `json:"external"`
	Mixdepth       int    `json:"mixdepth"`
	Confirmations  int    `json:"confirmations"`
	Frozen         bool   `json:"frozen"`
	Label          string `json:"label,omitempty"`
	Path           string `json:"path,omitempty"`
	Locktime       string `json:"locktime,omitempty"`
}

// IsFidelityBond reports whether the output is a timelocked fidelity bond.
func (u UTXO) IsFidelityBond() bool {
	return strings.TrimSpace(u.Locktime) != ""
}

type utxoResponse struct {
	UTXOs []UTXO `json:"utxos"`
}

// FidelityBonds returns the outputs that carry a locktime.
func FidelityBonds(utxos []UTXO) []UTXO {
	var bonds []UTXO
	for _, u := range utxos {
		if u.IsFidelityBond() {
			bonds = append(bonds, u)
		}
	}
	return bonds
}

type addressResponse struct {
	Address string `json:"address"`
}

// OfferType is the maker order type.
type OfferType string

const (
	// OfferRelative charges a fee proportional to the coinjoin amount.
	OfferRelative OfferType = "sw0reloffer"
	// OfferAbsolute charges a fixed fee in sats.
	OfferAbsolute OfferType = "sw0absoffer"
)

const (
	// maxRelativeFee is 10%, the ceiling the maker form accepts.
	maxRelativeFee = 0.1
)

// Offer configures the yield generator started by StartMaker.
type Offer struct {
	TxFee     int64     `json:"txfee"`
	CJFeeA    int64     `json:"cjfee_a"`
	CJFeeR    float64   `json:"cjfee_r"`
	OrderType OfferType `json:"ordertype"`
	MinSize   int64     `json:"minsize"`
}

// Validate checks the offer against the ranges the wallet service accepts.
func (o Offer) Validate() error {
	switch o.OrderType {
	case OfferRelative:
		if o.CJFeeR < 0 || o.CJFeeR > maxRelativeFee {
			return fmt.Errorf("relative fee %v out of range [0, %v]", o.CJFeeR, maxRelativeFee)
		}
	case OfferAbsolute:
		if o.CJFeeA < 0 {
			return fmt.Errorf("absolute fee must be non-negative, got %d", o.CJFeeA)
		}
	default:
		return fmt.Errorf("unknown offer type %q", o.OrderType)
	}
	if o.MinSize < 0 {
		return fmt.Errorf("minimum size must be non-negative, got %d", o.MinSize)
	}
	if o.TxFee < 0 {
		return fmt.Errorf("tx fee contribution must be non-negative, got %d", o.TxFee)
	}
	return nil
}

type reportResponse struct {
	Lines []string `json:"yigen_data"`
}
