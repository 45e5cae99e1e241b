// Package netpolicy evaluates per-app network whitelists.
//
// A whitelist is a list of entries, each either a single address ("203.0.113.5") or a CIDR
// block ("10.0.0.0/8", "2001:db8::/32"). Entries are parsed once into an Entry value and then
// evaluated against client addresses without re-parsing. An empty whitelist admits every
// client. Malformed entries never admit anyone and never stop evaluation of the rest.
package netpolicy

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
)

// Kind tags the variant held by an Entry.
type Kind int

const (
	// KindInvalid marks an entry whose text could not be parsed. It admits nothing.
	KindInvalid Kind = iota
	// KindSingleAddress admits exactly one textual address.
	KindSingleAddress
	// KindCIDRBlock admits every address of the same family inside the block.
	KindCIDRBlock
)

func (k Kind) String() string {
	switch k {
	case KindSingleAddress:
		return "address"
	case KindCIDRBlock:
		return "cidr"
	default:
		return "invalid"
	}
}

// Errors returned by ParseEntry.
var (
	ErrEmptyEntry     = errors.New("network entry is empty")
	ErrInvalidAddress = errors.New("invalid IP address")
	ErrInvalidPrefix  = errors.New("invalid prefix length")
)

// Entry is a parsed whitelist rule.
type Entry struct {
	Kind   Kind
	Raw    string       // trimmed source text
	Prefix netip.Prefix // masked block; for single addresses a full-length prefix
	Active bool
}

// ParseEntry parses a whitelist rule. Addresses with zones are rejected. The returned entry
// is active; callers loading stored rows set Active from the row.
func ParseEntry(spec string) (Entry, error) {
	raw := strings.TrimSpace(spec)
	e := Entry{Kind: KindInvalid, Raw: raw, Active: true}
	if raw == "" {
		return e, ErrEmptyEntry
	}

	addrPart, bitsPart, hasSlash := strings.Cut(raw, "/")
	addr, err := netip.ParseAddr(addrPart)
	if err != nil || addr.Zone() != "" {
		return e, fmt.Errorf("%w: %q", ErrInvalidAddress, addrPart)
	}

	if !hasSlash {
		e.Kind = KindSingleAddress
		e.Prefix = netip.PrefixFrom(addr, addr.BitLen())
		return e, nil
	}

	prefix, err := netip.ParsePrefix(raw)
	if err != nil {
		return e, fmt.Errorf("%w: %q (max /%d for IPv%d)", ErrInvalidPrefix, bitsPart, addr.BitLen(), family(addr))
	}
	e.Kind = KindCIDRBlock
	e.Prefix = prefix.Masked()
	return e, nil
}

// NormalizeNetworkSpec validates spec and returns its canonical text form: IPv6 compressed
// and lower-cased, surrounding whitespace removed. Host bits of a CIDR block are kept as
// written so operators see what they entered.
func NormalizeNetworkSpec(spec string) (string, error) {
	e, err := ParseEntry(spec)
	if err != nil {
		return "", err
	}
	if e.Kind == KindSingleAddress {
		return e.Prefix.Addr().String(), nil
	}
	addrPart, bits, _ := strings.Cut(e.Raw, "/")
	addr, _ := netip.ParseAddr(addrPart)
	return addr.String() + "/" + bits, nil
}

// admits reports whether this single entry admits the client. textual is the client address
// as received; client is its parsed form when clientOK.
func (e Entry) admits(textual string, client netip.Addr, clientOK bool) bool {
	if !e.Active {
		return false
	}
	switch e.Kind {
	case KindSingleAddress:
		return textual == e.Raw
	case KindCIDRBlock:
		if !clientOK || client.Is4() != e.Prefix.Addr().Is4() {
			return false
		}
		return e.Prefix.Contains(client)
	default:
		return false
	}
}

// IsAdmitted reports whether clientAddress may pass the whitelist. A whitelist with no
// active entries admits every client. Otherwise the client must be admitted by at least one
// active entry: an exact textual match for single-address entries, or masked-prefix equality
// within the same address family for CIDR blocks.
func IsAdmitted(clientAddress string, whitelist []Entry) bool {
	if !hasActive(whitelist) {
		return true
	}

	textual := strings.TrimSpace(clientAddress)
	client, err := netip.ParseAddr(textual)
	clientOK := err == nil && client.Zone() == ""

	for _, e := range whitelist {
		if e.admits(textual, client, clientOK) {
			return true
		}
	}
	return false
}

// ParseEntries parses every spec, keeping malformed ones as KindInvalid entries so that a
// whitelist made only of bad rows still restricts access. The returned errors are in the same
// order as their entries and are nil for entries that parsed.
func ParseEntries(specs []string) ([]Entry, []error) {
	entries := make([]Entry, len(specs))
	errs := make([]error, len(specs))
	for i, s := range specs {
		entries[i], errs[i] = ParseEntry(s)
	}
	return entries, errs
}

func hasActive(whitelist []Entry) bool {
	for _, e := range whitelist {
		if e.Active {
			return true
		}
	}
	return false
}

func family(a netip.Addr) int {
	if a.Is4() {
		return 4
	}
	return 6
}
