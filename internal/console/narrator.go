package console

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const bannerWidth = 60

// Narrator writes human readable progress. Addresses and transactions get
// block explorer links when an explorer URL is known.
type Narrator struct {
	out      io.Writer
	explorer string
}

// NewNarrator writes to out. A nil out discards everything.
func NewNarrator(out io.Writer, explorerURL string) *Narrator {
	if out == nil {
		out = io.Discard
	}
	return &Narrator{out: out, explorer: strings.TrimRight(explorerURL, "/")}
}

// Banner announces a phase.
func (n *Narrator) Banner(title string) {
	rule := strings.Repeat("=", bannerWidth)
	fmt.Fprintf(n.out, "\n%s\n%s\n%s\n", rule, title, rule)
}

// Address prints a labelled address.
func (n *Narrator) Address(label string, address common.Address) {
	fmt.Fprintf(n.out, "%s: %s\n", label, address.Hex())
	if link := n.AddressURL(address); link != "" {
		fmt.Fprintf(n.out, "  %s\n", link)
	}
}

// Transaction prints a labelled transaction hash.
func (n *Narrator) Transaction(label string, hash common.Hash) {
	fmt.Fprintf(n.out, "%s: %s\n", label, hash.Hex())
	if link := n.TransactionURL(hash); link != "" {
		fmt.Fprintf(n.out, "  %s\n", link)
	}
}

// Printf writes a free form line.
func (n *Narrator) Printf(format string, args ...any) {
	fmt.Fprintf(n.out, format, args...)
	if !strings.HasSuffix(format, "\n") {
		fmt.Fprintln(n.out)
	}
}

// AddressURL returns the explorer page of address, or "".
func (n *Narrator) AddressURL(address common.Address) string {
	if n.explorer == "" {
		return ""
	}
	return n.explorer + "/address/" + address.Hex()
}

// TransactionURL returns the explorer page of hash, or "".
func (n *Narrator) TransactionURL(hash common.Hash) string {
	if n.explorer == "" {
		return ""
	}
	return n.explorer + "/tx/" + hash.Hex()
}
