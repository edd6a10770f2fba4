/*
Package ecstrie holds the per-domain exploration state of an ECS scan as a binary prefix trie.

Each trie records which client subnets have been probed for one domain and which scopes the
authoritative has revealed so far. Interior nodes carry probe counters and the derived
BGP-announcement attributes of the prefix they represent; a fully-explored node is replaced by a
leaf which keeps the counters but refuses further exploration. The Root answers two questions:
what happened (HandleResponse) and what to probe next (NextPrefix).

A trie is owned by exactly one domain scan and is never shared, so nothing in here locks.
*/
package ecstrie

import (
	"fmt"
	"sort"

	"github.com/markdingo/ecsplorer/internal/bitfield"

	"github.com/sirupsen/logrus"
)

// Mode is a scanning mode in ascending precedence. When walking the trie the effective mode is
// the maximum of the inherited mode and the node's own mode.
type Mode int

const (
	SampleMode       Mode = iota // Free to probe any path up to the source prefix length
	BGPMode                      // Restrict to paths announced or leading to an announced subnet
	BGPPrefixMode                // Restrict strictly to announced subnets
	FinishedScanning             // Stop
)

func (m Mode) String() string {
	switch m {
	case SampleMode:
		return "sample"
	case BGPMode:
		return "bgp"
	case BGPPrefixMode:
		return "bgp-prefix"
	case FinishedScanning:
		return "finished"
	}

	return fmt.Sprintf("mode(%d)", int(m))
}

type prefixKind int

const (
	unannounced prefixKind = iota
	bgpAnnounced
)

// Params carries the immutable configuration a trie consults: the source prefix length, the
// address family, the per-depth announced-probe limits and the table of configured source
// prefixes. One Params is shared by all tries of a run.
type Params struct {
	SPL    int
	IPv6   bool
	Limits map[int]int // depth -> max announced probes; absent or zero means no budget

	prefixKeys    []uint64         // sorted key integers of the configured source prefixes
	prefixLengths map[uint64][]int // key integer -> prefix lengths configured at that address
}

// NewParams builds a Params from the configured source prefixes, keyed by their key integer as
// produced by bitfield.KeyFromIP.
func NewParams(spl int, ipv6 bool, limits map[int]int, prefixes map[uint64][]int) *Params {
	t := &Params{
		SPL:           spl,
		IPv6:          ipv6,
		Limits:        limits,
		prefixLengths: prefixes,
		prefixKeys:    make([]uint64, 0, len(prefixes)),
	}
	for key := range prefixes {
		t.prefixKeys = append(t.prefixKeys, key)
	}
	sort.Slice(t.prefixKeys, func(i, j int) bool { return t.prefixKeys[i] < t.prefixKeys[j] })

	return t
}

// isAnnouncedPrefix reports whether the path is exactly one of the configured source prefixes.
func (t *Params) isAnnouncedPrefix(path bitfield.Bits) bool {
	for _, length := range t.prefixLengths[bitfield.Key(path, t.IPv6)] {
		if length == len(path) {
			return true
		}
	}

	return false
}

// hasAnnouncedSubnet reports whether the key of any configured source prefix lies within the key
// range of the subnet the path denotes, so a shorter prefix starting at the same address counts
// too. Binary search over the sorted prefix keys.
func (t *Params) hasAnnouncedSubnet(path bitfield.Bits) bool {
	start := bitfield.Key(path, t.IPv6)
	end := bitfield.LargestKey(path, t.IPv6)

	ix := sort.Search(len(t.prefixKeys), func(i int) bool { return t.prefixKeys[i] >= start })
	if ix == len(t.prefixKeys) {
		return false
	}

	return t.prefixKeys[ix] >= start && t.prefixKeys[ix] <= end
}

// element is the capability set shared by the three trie variants.
type element interface {
	wasScanned() bool
	setScanned()
	setChildScanned(announced bool)
	scanningMode(path bitfield.Bits) Mode
	isBGPPrefix() bool
	inAnnouncedSpace() bool
	hasBGPSubnet() bool
	anyUnfinishedBGPSubnetsLeft(path bitfield.Bits) bool
	getChild(path bitfield.Bits, bit byte) element
	finishChild(bit byte)
	finishSelf() element
	markAsInResponse() bool
	markedInResponse() bool
}

var log = logrus.StandardLogger()

// SetLogger replaces the package logger. The default is the logrus standard logger.
func SetLogger(l *logrus.Logger) {
	log = l
}

// extend returns path plus one trailing bit. Always copies so sibling paths never alias.
func extend(path bitfield.Bits, bit byte) bitfield.Bits {
	out := make(bitfield.Bits, len(path)+1)
	copy(out, path)
	out[len(path)] = bit

	return out
}

// prefixString renders a path for the debug log.
func prefixString(path bitfield.Bits, ipv6 bool) string {
	return fmt.Sprintf("%s/%d", bitfield.ToIP(path, ipv6), len(path))
}
