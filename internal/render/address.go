package render

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	qrcode "github.com/skip2/go-qrcode"
)

// NetParams maps a network name to its chain parameters.
func NetParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	}
	return nil, fmt.Errorf("unknown network %q", network)
}

// ValidateAddress checks that addr decodes for params.
func ValidateAddress(addr string, params *chaincfg.Params) error {
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return fmt.Errorf("invalid %s address %q: %w", params.Name, addr, err)
	}
	if !decoded.IsForNet(params) {
		return fmt.Errorf("address %q is not for %s", addr, params.Name)
	}
	return nil
}

// AddressQR renders a bitcoin: URI for addr as a terminal QR code.
func AddressQR(addr string) (string, error) {
	qr, err := qrcode.New("bitcoin:"+addr, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("failed to encode QR code: %w", err)
	}
	return qr.ToSmallString(false), nil
}
