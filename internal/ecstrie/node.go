package ecstrie

import (
	"github.com/markdingo/ecsplorer/internal/bitfield"
)

// node is an interior trie element: one bit of the client address plus the probe counters and
// the announcement attributes derived from the configured source prefixes. The derived
// attributes are computed once at construction and never change.
type node struct {
	params *Params

	val       byte
	kind      prefixKind
	bgpSubnet bool // the start key of some configured source prefix lies within this node's subnet
	announced bool // this node or an ancestor is a configured source prefix

	children [2]element

	nodeScans              int
	scansAnnounced         int
	scansUnannounced       int
	counterReturnedAsScope int
}

// newNode constructs the node for parentPath extended by val. parentAnnounced is the parent's
// inAnnouncedSpace value; announced-ness is monotone down the tree.
func newNode(parentPath bitfield.Bits, val byte, parentAnnounced bool, params *Params) *node {
	path := extend(parentPath, val)

	kind := unannounced
	if params.isAnnouncedPrefix(path) {
		kind = bgpAnnounced
	}

	return &node{
		params:    params,
		val:       val,
		kind:      kind,
		bgpSubnet: params.hasAnnouncedSubnet(path),
		announced: parentAnnounced || kind == bgpAnnounced,
	}
}

func (t *node) wasScanned() bool {
	return t.nodeScans >= 1
}

func (t *node) setScanned() {
	t.nodeScans++
	if t.kind == bgpAnnounced {
		t.scansAnnounced++
	} else {
		t.scansUnannounced++
	}
}

// setChildScanned propagates a descendant probe into our announced/unannounced counters. The
// probe counts as announced if the descendant's path was announced or this node itself is a
// configured prefix.
func (t *node) setChildScanned(announced bool) {
	if announced || t.kind == bgpAnnounced {
		t.scansAnnounced++
	} else {
		t.scansUnannounced++
	}
}

func (t *node) isBGPPrefix() bool {
	return t.kind == bgpAnnounced
}

func (t *node) inAnnouncedSpace() bool {
	return t.announced
}

func (t *node) hasBGPSubnet() bool {
	return t.bgpSubnet
}

func (t *node) markAsInResponse() bool {
	t.counterReturnedAsScope++

	return t.counterReturnedAsScope >= 1
}

func (t *node) markedInResponse() bool {
	return t.counterReturnedAsScope >= 1
}

// getChild returns the child at bit, materializing a fresh node if the slot is empty. A slot
// already replaced by a leaf returns that leaf.
func (t *node) getChild(path bitfield.Bits, bit byte) element {
	if t.children[bit] == nil {
		t.children[bit] = newNode(path, bit, t.announced, t.params)
	}

	return t.children[bit]
}

// finishChild replaces the child at bit with a leaf derived from it, discarding its subtree.
func (t *node) finishChild(bit byte) {
	if t.children[bit] != nil {
		t.children[bit] = t.children[bit].finishSelf()
	}
}

// finishSelf produces the leaf snapshotting this node's counters.
func (t *node) finishSelf() element {
	return &leaf{
		val:              t.val,
		kind:             t.kind,
		bgpSubnet:        t.bgpSubnet,
		announced:        t.announced,
		scansAnnounced:   t.scansAnnounced,
		scansUnannounced: t.scansUnannounced,
	}
}

// anyUnfinishedBGPSubnetsLeft reports whether some configured source prefix at or below this
// node has not been scanned. Only materialized children are considered.
func (t *node) anyUnfinishedBGPSubnetsLeft(path bitfield.Bits) bool {
	if t.kind == bgpAnnounced && !t.wasScanned() {
		return true
	}
	if !t.bgpSubnet {
		return false
	}
	if len(path) == t.params.SPL {
		return false
	}
	for bit, child := range t.children {
		if child != nil && child.anyUnfinishedBGPSubnetsLeft(extend(path, byte(bit))) {
			return true
		}
	}

	return false
}

// scanningMode determines how exploration may proceed below this node. path is the full path
// from the root including this node's bit, so len(path) is the node's depth.
func (t *node) scanningMode(path bitfield.Bits) Mode {
	depth := len(path)
	limit := t.params.Limits[depth]
	if limit == 0 { // no budget at this depth
		return SampleMode
	}

	if t.markedInResponse() {
		log.Debugf("trie: finish scanning as marked in response %s", prefixString(path, t.params.IPv6))
		return FinishedScanning
	}

	if t.scansAnnounced >= limit {
		if t.anyUnfinishedBGPSubnetsLeft(path) {
			return BGPPrefixMode
		}
		log.Debugf("trie: finish scanning - limit hit %s", prefixString(path, t.params.IPv6))
		return FinishedScanning
	}

	return SampleMode
}
