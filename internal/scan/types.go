/*
Package scan drives the measurement: the Planner turns aggregated responses into the next probe
for a domain (or a finished determination) and the Controller keeps up to max_parallel_domains
domains in flight against the probe executor, aggregating per-vantage-point responses and
writing result rows.

Everything in here runs on the single control goroutine; tries and domain states are never
shared.
*/
package scan

import (
	"net"

	"github.com/markdingo/ecsplorer/internal/ecstrie"
	"github.com/markdingo/ecsplorer/internal/probe"
)

// DomainState is the per-domain scan state. Identifier is unique within the run and doubles as
// the user id tagging outbound queries so responses can be routed back.
type DomainState struct {
	Domain       string
	NameserverIP net.IP
	Identifier   int

	TempErrors int
	PermError  bool

	trie *ecstrie.Root // owned exclusively by this domain's scan
}

// QueryRequest is the next probe the Planner wants issued for a domain: an ECS query carrying
// ClientIP/SourcePrefixLen from every vantage point.
type QueryRequest struct {
	State           *DomainState
	ClientIP        net.IP
	SourcePrefixLen int
	IPv6            bool
}

// QueryResponse aggregates exactly one InstResponse per attached vantage point for one
// QueryRequest.
type QueryResponse struct {
	Request   *QueryRequest
	Responses []probe.InstResponse
}

// Result is what the Planner hands back for a domain: a *QueryRequest to dispatch, Finished, or
// Waiting.
type Result interface {
	resultState() *DomainState
}

// Finished signals that the domain's exploration is complete and its state can be dropped.
type Finished struct {
	State *DomainState
}

// Waiting signals that nothing can be decided for the domain until more results arrive.
type Waiting struct {
	State *DomainState
}

func (t Finished) resultState() *DomainState      { return t.State }
func (t Waiting) resultState() *DomainState       { return t.State }
func (t *QueryRequest) resultState() *DomainState { return t.State }
