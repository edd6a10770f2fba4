package ecstrie

import (
	"github.com/markdingo/ecsplorer/internal/bitfield"
)

// leaf is the terminal marker replacing a fully-explored node. It retains the final probe
// counters for accounting but refuses further exploration: its scanning mode is always
// FinishedScanning and it has no children.
type leaf struct {
	val       byte
	kind      prefixKind
	bgpSubnet bool
	announced bool

	scansAnnounced   int
	scansUnannounced int
	leafScanned      int
}

func (t *leaf) wasScanned() bool {
	return t.leafScanned >= 1
}

func (t *leaf) setScanned() {
	t.leafScanned++
	if t.kind == bgpAnnounced {
		t.scansAnnounced++
	} else {
		t.scansUnannounced++
	}
}

func (t *leaf) setChildScanned(announced bool) {
	if announced || t.kind == bgpAnnounced {
		t.scansAnnounced++
	} else {
		t.scansUnannounced++
	}
}

func (t *leaf) scanningMode(_ bitfield.Bits) Mode {
	return FinishedScanning
}

func (t *leaf) isBGPPrefix() bool {
	return t.kind == bgpAnnounced
}

func (t *leaf) inAnnouncedSpace() bool {
	return t.announced
}

func (t *leaf) hasBGPSubnet() bool {
	return t.bgpSubnet
}

func (t *leaf) anyUnfinishedBGPSubnetsLeft(_ bitfield.Bits) bool {
	return false
}

func (t *leaf) getChild(_ bitfield.Bits, _ byte) element {
	return nil
}

func (t *leaf) finishChild(_ byte) {
}

func (t *leaf) finishSelf() element {
	return t
}

// markAsInResponse on a leaf is vacuously true: the subtree is already fully accounted for.
func (t *leaf) markAsInResponse() bool {
	return true
}

func (t *leaf) markedInResponse() bool {
	return true
}
