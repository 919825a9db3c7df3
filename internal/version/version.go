// Package version defines jmsession version information and build metadata.
//
// CommitHash may be set with -ldflags; otherwise the VCS revision recorded by
// the Go toolchain is used when available.
package version

import (
	"fmt"
	"runtime/debug"
	"strings"
)

// CommitHash stores the git commit of this build.
var CommitHash string

// semanticAlphabet is the allowed characters from the semantic versioning
// guidelines for pre-release version and build metadata strings.
const semanticAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz-."

const (
	appMajor uint = 0
	appMinor uint = 4
	appPatch uint = 0

	// appPreRelease MUST only contain characters from semanticAlphabet.
	appPreRelease = "beta"
)

// Version returns the SemVer 2.0.0 version string.
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if pre := normalizeVerString(appPreRelease, semanticAlphabet); pre != "" {
		version += "-" + pre
	}
	return version
}

// RichVersion returns the version followed by the commit and Go version.
func RichVersion() string {
	parts := []string{Version()}
	if commit := commit(); commit != "" {
		parts = append(parts, "commit="+commit)
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.GoVersion != "" {
		parts = append(parts, "go="+info.GoVersion)
	}
	return strings.Join(parts, " ")
}

func commit() string {
	if c := strings.TrimSpace(CommitHash); c != "" {
		return c
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "-dirty"
	}
	return rev
}

// normalizeVerString strips characters not present in alphabet.
func normalizeVerString(str string, alphabet string) string {
	var b strings.Builder
	for _, r := range str {
		if strings.ContainsRune(alphabet, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
