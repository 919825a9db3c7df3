package render

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/abhiShandy/joinmarket-webui/internal/jmapi"
	"github.com/abhiShandy/joinmarket-webui/internal/storage"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// WriteReport prints the yield generator report, newest row first.
func WriteReport(w io.Writer, r jmapi.Report) error {
	if r.Empty() {
		_, err := fmt.Fprintln(w, "No yield generator activity yet.")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, strings.Join(r.Header, "\t"))
	for _, row := range r.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// WriteUTXOs prints outputs with their mixdepth, value and flags.
func WriteUTXOs(w io.Writer, utxos []jmapi.UTXO) error {
	if len(utxos) == 0 {
		_, err := fmt.Fprintln(w, "No UTXOs.")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "MIXDEPTH\tVALUE\tCONFS\tFLAGS\tADDRESS\tUTXO")
	var total int64
	for _, u := range utxos {
		total += u.Value
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n",
			u.Mixdepth, FormatSats(u.Value), u.Confirmations, utxoFlags(u), u.Address, u.UTXO)
	}
	fmt.Fprintf(tw, "\t%s\t\t\t\t(%d outputs)\n", FormatSats(total), len(utxos))
	return tw.Flush()
}

func utxoFlags(u jmapi.UTXO) string {
	var flags []string
	if u.Frozen {
		flags = append(flags, "frozen")
	}
	if u.IsFidelityBond() {
		flags = append(flags, "bond:"+u.Locktime)
	}
	if !u.External {
		flags = append(flags, "change")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

// WriteWallet prints per-account balances and the funded addresses.
func WriteWallet(w io.Writer, info *jmapi.WalletInfo) error {
	if info == nil {
		return fmt.Errorf("no wallet info")
	}
	if _, err := fmt.Fprintf(w, "%s  total %s\n", info.WalletName, FormatBTC(info.TotalBalance)); err != nil {
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ACCOUNT\tBRANCH\tBALANCE\tADDRESS\tAMOUNT\tSTATUS")
	for _, acct := range info.Accounts {
		fmt.Fprintf(tw, "%s\t\t%s\t\t\t\n", acct.Account, FormatBTC(acct.AccountBalance))
		for _, br := range acct.Branches {
			fmt.Fprintf(tw, "\t%s\t%s\t\t\t\n", br.Branch, FormatBTC(br.Balance))
			for _, e := range br.Entries {
				if amountIsZero(e.Amount) {
					continue
				}
				fmt.Fprintf(tw, "\t\t\t%s\t%s\t%s\n", e.Address, FormatBTC(e.Amount), e.Status)
			}
		}
	}
	return tw.Flush()
}

func amountIsZero(raw string) bool {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	return err == nil && v == 0
}

// WriteHistory prints recorded status transitions.
func WriteHistory(w io.Writer, records []storage.StatusRecord) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(w, "No status history recorded.")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "TIME\tINDICATOR\tWALLET\tMAKER\tCOINJOIN\tPUSH\tERROR")
	for _, rec := range records {
		wallet := rec.WalletName
		if wallet == "" {
			wallet = "-"
		}
		push := "down"
		if rec.WebsocketConnected {
			push = "up"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.RecordedAt.Local().Format("2006-01-02 15:04:05"), rec.Indicator, wallet,
			rec.MakerRunning, rec.CoinjoinInProcess, push, rec.ConnectionError)
	}
	return tw.Flush()
}
