package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const prefsFile = "maker.json"

// MakerPrefs are the offer settings last used to start the maker.
type MakerPrefs struct {
	OfferType string  `json:"offertype"`
	FeeRel    float64 `json:"feeRel"`
	FeeAbs    int64   `json:"feeAbs"`
	MinSize   int64   `json:"minsize"`
	// UpdatedAtMs is the wall-clock timestamp of the most recent write.
	UpdatedAtMs int64 `json:"updatedAtMs,omitempty"`
}

// DefaultMakerPrefs are used until the user saves their own.
func DefaultMakerPrefs() MakerPrefs {
	return MakerPrefs{
		OfferType: "sw0reloffer",
		FeeRel:    0.0003,
		FeeAbs:    250,
		MinSize:   100000,
	}
}

// LoadMakerPrefs reads the preferences under home. Missing files yield the
// defaults.
func LoadMakerPrefs(home string) (MakerPrefs, error) {
	path, err := makerPrefsPath(home)
	if err != nil {
		return MakerPrefs{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultMakerPrefs(), nil
		}
		return MakerPrefs{}, err
	}
	prefs := DefaultMakerPrefs()
	if err := json.Unmarshal(data, &prefs); err != nil {
		return MakerPrefs{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return prefs, nil
}

// SaveMakerPrefs writes the preferences atomically.
func SaveMakerPrefs(home string, prefs MakerPrefs) error {
	path, err := makerPrefsPath(home)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}

	prefs.UpdatedAtMs = time.Now().UnixMilli()
	raw, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func makerPrefsPath(home string) (string, error) {
	if strings.TrimSpace(home) == "" {
		return "", fmt.Errorf("missing jmsession home")
	}
	return filepath.Join(home, "prefs", prefsFile), nil
}
