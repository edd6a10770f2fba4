package ecstrie

import (
	"github.com/markdingo/ecsplorer/internal/bitfield"
)

// maxScopeZeroObserved is the number of scope-zero responses after which a domain would be
// considered finished. Zero disables the check entirely; scope-zero responses are counted but
// never finish a domain.
const maxScopeZeroObserved = 0

// Root is the entry point of a trie. It has no bit value and no probe counters of its own; it
// only tracks scope-zero observations and holds the two top-level children.
type Root struct {
	params            *Params
	scopeZeroObserved int
	children          [2]element
}

// New creates an empty trie for one domain scan.
func New(params *Params) *Root {
	return &Root{params: params}
}

func (t *Root) wasScanned() bool {
	return false
}

func (t *Root) setScanned() {
}

func (t *Root) setChildScanned(_ bool) {
}

// scanningMode of the Root is always SampleMode: budgets apply to prefixes, not to the whole
// address space.
func (t *Root) scanningMode(_ bitfield.Bits) Mode {
	return SampleMode
}

func (t *Root) isBGPPrefix() bool {
	return false
}

func (t *Root) inAnnouncedSpace() bool {
	return false
}

func (t *Root) hasBGPSubnet() bool {
	return len(t.params.prefixKeys) > 0
}

func (t *Root) anyUnfinishedBGPSubnetsLeft(path bitfield.Bits) bool {
	for bit, child := range t.children {
		if child != nil && child.anyUnfinishedBGPSubnetsLeft(extend(path, byte(bit))) {
			return true
		}
	}

	return false
}

func (t *Root) getChild(path bitfield.Bits, bit byte) element {
	if t.children[bit] == nil {
		t.children[bit] = newNode(path, bit, false, t.params)
	}

	return t.children[bit]
}

func (t *Root) finishChild(bit byte) {
	if t.children[bit] != nil {
		t.children[bit] = t.children[bit].finishSelf()
	}
}

func (t *Root) finishSelf() element {
	return nil
}

func (t *Root) markAsInResponse() bool {
	return false
}

func (t *Root) markedInResponse() bool {
	return false
}

// ScopeZeroObserved returns how many scope-zero responses this trie has absorbed.
func (t *Root) ScopeZeroObserved() int {
	return t.scopeZeroObserved
}

// HandleResponse feeds an observed scope back into the trie. short is the probed client address
// truncated to the scope prefix length announced by the authoritative. The node at that depth is
// marked as returned-in-response; the return value is true iff the mark propagated a finished
// determination all the way back to the root, meaning the domain is done.
//
// A zero-length scope is only counted against the (disabled) scope-zero threshold.
func (t *Root) HandleResponse(short bitfield.Bits) bool {
	if len(short) > 0 {
		return handleResponse(t, short, 0)
	}

	t.scopeZeroObserved++

	return maxScopeZeroObserved > 0 && t.scopeZeroObserved >= maxScopeZeroObserved
}

// handleResponse walks down along short. At the target depth the node is marked; on the way back
// up "finished" survives only while each ancestor reports FinishedScanning for its own prefix.
func handleResponse(current element, short bitfield.Bits, depth int) bool {
	if current == nil { // hit below a leaf, nobody cares about results there anymore
		return false
	}
	if len(short) == depth {
		return current.markAsInResponse()
	}

	child := current.getChild(short[:depth], short[depth])
	if handleResponse(child, short, depth+1) {
		return current.scanningMode(short[:depth]) == FinishedScanning
	}

	return false
}
