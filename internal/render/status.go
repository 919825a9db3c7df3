// Package render formats reconciler status, amounts, addresses and wallet
// data for the terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/abhiShandy/joinmarket-webui/internal/reconciler"
	"github.com/fatih/color"
)

// Printer writes status lines, optionally colored.
type Printer struct {
	w      io.Writer
	colors bool
}

// NewPrinter returns a printer writing to w. Colors are disabled when
// colors is false or when the color package detected a non-terminal.
func NewPrinter(w io.Writer, colors bool) *Printer {
	return &Printer{w: w, colors: colors && !color.NoColor}
}

func (p *Printer) paint(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if p.colors {
		c.EnableColor()
	} else {
		c.DisableColor()
	}
	return c
}

func indicatorAttrs(ind reconciler.Indicator) []color.Attribute {
	switch ind {
	case reconciler.IndicatorDisconnected:
		return []color.Attribute{color.FgRed, color.Bold}
	case reconciler.IndicatorCoinjoin:
		return []color.Attribute{color.FgYellow, color.Bold}
	case reconciler.IndicatorMaker:
		return []color.Attribute{color.FgGreen, color.Bold}
	case reconciler.IndicatorIdle:
		return []color.Attribute{color.FgCyan}
	default:
		return []color.Attribute{color.FgHiBlack}
	}
}

// Indicator returns the bracketed indicator label.
func (p *Printer) Indicator(ind reconciler.Indicator) string {
	return p.paint(indicatorAttrs(ind)...).Sprintf("[%s]", ind)
}

// StatusLine renders one line describing st.
func (p *Printer) StatusLine(st reconciler.Status, at time.Time) string {
	parts := []string{at.Format("15:04:05"), p.Indicator(st.Indicator)}

	if st.SessionActive {
		parts = append(parts, "wallet="+st.WalletName)
	} else {
		parts = append(parts, "wallet=-")
	}
	parts = append(parts,
		"maker="+st.MakerRunning.String(),
		"coinjoin="+st.CoinjoinInProcess.String(),
	)
	if st.WebsocketConnected {
		parts = append(parts, "push=up")
	} else {
		parts = append(parts, "push=down")
	}
	switch st.MakerTransition {
	case reconciler.MakerStarting:
		parts = append(parts, p.paint(color.FgYellow).Sprint("(maker starting)"))
	case reconciler.MakerStopping:
		parts = append(parts, p.paint(color.FgYellow).Sprint("(maker stopping)"))
	}

	line := strings.Join(parts, " ")
	if banner := st.Banner(); banner != "" {
		attr := color.FgYellow
		if !st.Connected() {
			attr = color.FgRed
		}
		line += "\n  " + p.paint(attr).Sprint(banner)
	}
	return line
}

// PrintStatus writes StatusLine followed by a newline.
func (p *Printer) PrintStatus(st reconciler.Status, at time.Time) error {
	_, err := fmt.Fprintln(p.w, p.StatusLine(st, at))
	return err
}
