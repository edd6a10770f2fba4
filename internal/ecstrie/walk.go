package ecstrie

import (
	"math/rand"

	"github.com/markdingo/ecsplorer/internal/bitfield"
)

// NextPrefix selects the next client subnet to probe: a depth-first walk from the root, starting
// in BGPMode, honoring per-depth budgets and the marks left by previous responses. It returns
// the chosen path, whether the probe lands in announced space, and ok=false once the trie has
// nothing left to offer - the domain is finished.
//
// Child order is randomized per recursive call from rng so paths through the trie are not
// statically biased; a seeded rng makes runs reproducible.
func (t *Root) NextPrefix(rng *rand.Rand) (bitfield.Bits, bool, bool) {
	path, announced := nextWithMode(t, nil, BGPMode, rng)
	if path == nil {
		return nil, false, false
	}

	return path, announced, true
}

func nextWithMode(elem element, parentPath bitfield.Bits, mode Mode, rng *rand.Rand) (bitfield.Bits, bool) {
	var current bitfield.Bits
	var params *Params

	switch e := elem.(type) {
	case *leaf:
		return nil, false
	case *node:
		current = extend(parentPath, e.val)
		params = e.params
	case *Root:
		current = parentPath
		params = e.params
	}

	nodeMode := elem.scanningMode(current)
	if nodeMode == FinishedScanning {
		return nil, false
	}
	if nodeMode > mode {
		mode = nodeMode
	}

	// A mode restriction only cuts this subtree when there is no announced space to find in it.

	if mode == BGPPrefixMode && !elem.isBGPPrefix() && !elem.hasBGPSubnet() {
		return nil, false
	}
	if mode == BGPMode && !elem.hasBGPSubnet() && !elem.inAnnouncedSpace() {
		return nil, false
	}

	// Probing depth reached

	if len(current) == params.SPL {
		if elem.wasScanned() {
			return nil, false
		}
		if mode == SampleMode || (mode == BGPMode && elem.inAnnouncedSpace()) {
			elem.setScanned()
			return current, elem.isBGPPrefix()
		}

		return nil, false
	}

	firstBit := byte(rng.Intn(2))
	bits := [2]byte{firstBit, 1 - firstBit}
	order := [2]element{}
	childAvailable := false
	onlySecondHasBGP := true

	for slot, bit := range bits {
		child := elem.getChild(current, bit)
		if _, isLeaf := child.(*leaf); isLeaf {
			continue
		}
		if mode == BGPPrefixMode && !child.isBGPPrefix() && !child.hasBGPSubnet() {
			log.Debugf("trie: finishing child %s, no announced space",
				prefixString(extend(current, bit), params.IPv6))
			elem.finishChild(bit)
			continue
		}
		if child.wasScanned() {
			elem.finishChild(bit)
			continue
		}

		order[slot] = child
		childAvailable = true
		firstHasCoverage := slot == 0 && (child.hasBGPSubnet() || child.inAnnouncedSpace())
		secondLacksCoverage := slot == 1 && !child.hasBGPSubnet() && !child.inAnnouncedSpace()
		if firstHasCoverage || secondLacksCoverage {
			onlySecondHasBGP = false
		}
	}

	if childAvailable {
		if onlySecondHasBGP { // try the announced-bearing child first
			order[0], order[1] = order[1], order[0]
			bits[0], bits[1] = bits[1], bits[0]
		}

		for slot, child := range order {
			if child == nil {
				continue
			}
			childPath, announced := nextWithMode(child, current, mode, rng)
			if childPath != nil {
				elem.setChildScanned(announced)
				return childPath, announced || elem.isBGPPrefix()
			}
			log.Debugf("trie: finish child %s, no more scans to do in mode %s",
				prefixString(extend(current, bits[slot]), params.IPv6), mode)
			elem.finishChild(bits[slot])
		}
	}

	// Terminal case: a BGP-announced node whose subtree yielded nothing collapses into itself
	// so every announced prefix receives at least one probe.

	if elem.isBGPPrefix() {
		elem.setScanned()
		return current, true
	}

	return nil, false
}
