package scan

import (
	"math/rand"

	"github.com/markdingo/ecsplorer/internal/bitfield"
	"github.com/markdingo/ecsplorer/internal/ecstrie"

	"github.com/sirupsen/logrus"
)

// Planner owns the exploration policy: it feeds response scopes back into a domain's trie and
// asks the trie for the next client subnet to probe. One Planner serves every domain of the run;
// the per-domain state lives in the DomainState it is handed.
type Planner struct {
	params              *ecstrie.Params
	ipv6                bool
	ignoreResponseScope bool
	rng                 *rand.Rand
	log                 *logrus.Logger
}

// NewPlanner creates the run's planner. rng drives the randomized child ordering of the trie
// walk; seed it for reproducible runs.
func NewPlanner(params *ecstrie.Params, ipv6, ignoreResponseScope bool, rng *rand.Rand,
	log *logrus.Logger) *Planner {

	return &Planner{
		params:              params,
		ipv6:                ipv6,
		ignoreResponseScope: ignoreResponseScope,
		rng:                 rng,
		log:                 log,
	}
}

// Next advances one domain by one exploration step. last is nil on the first call for a domain,
// which lazily creates its trie. Otherwise last is the fully aggregated response to the
// previously planned request.
//
// The scope fed into the trie is the maximum observed across vantage points, clamped to the
// request's source prefix length. A response containing any per-instance error does not touch
// the trie; it bumps the domain's error counter instead, and a domain with errors on record is
// finished at the next planning step.
func (t *Planner) Next(state *DomainState, last *QueryResponse) Result {
	if last == nil {
		t.log.Debugf("planner: initializing new trie for %s", state.Domain)
		state.trie = ecstrie.New(t.params)
	} else {
		hasError := false
		for _, resp := range last.Responses {
			if resp.Err != nil {
				hasError = true
			}
		}
		if hasError {
			state.TempErrors++
		}

		if !hasError && !t.ignoreResponseScope {
			scope := 0
			for _, resp := range last.Responses {
				if resp.ScopePrefixLen > scope {
					scope = resp.ScopePrefixLen
				}
			}
			if scope > last.Request.SourcePrefixLen {
				scope = last.Request.SourcePrefixLen
			}

			short := bitfield.Truncate(bitfield.FromIP(last.Request.ClientIP, t.ipv6), scope)
			if state.trie.HandleResponse(short) {
				return Finished{State: state}
			}
		}
	}

	if state.PermError || state.TempErrors > 0 {
		t.log.Debugf("planner: too many errors on domain %s, finishing scanning", state.Domain)
		return Finished{State: state}
	}

	path, _, ok := state.trie.NextPrefix(t.rng)
	if !ok {
		return Finished{State: state}
	}

	return &QueryRequest{
		State:           state,
		ClientIP:        bitfield.ToIP(path, t.ipv6),
		SourcePrefixLen: len(path),
		IPv6:            t.ipv6,
	}
}
