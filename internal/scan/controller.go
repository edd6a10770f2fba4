package scan

import (
	"fmt"
	"net"
	"sync"

	"github.com/markdingo/ecsplorer/internal/constants"
	"github.com/markdingo/ecsplorer/internal/probe"
	"github.com/markdingo/ecsplorer/internal/results"

	"github.com/sirupsen/logrus"
)

var consts = constants.Get()

// Pair is one (domain, authoritative nameserver address) input to the controller.
type Pair struct {
	Domain       string
	NameserverIP net.IP
}

// aggregation collects the per-vantage-point responses to one in-flight QueryRequest.
type aggregation struct {
	request   *QueryRequest
	responses []probe.InstResponse
}

// controllerStats feeds the Report output. A separate struct so resetting is a struct copy.
type controllerStats struct {
	dispatched      int // queries handed to the executor
	responses       int // per-instance responses drained
	domainsFinished int
	strays          int // responses with no pending aggregation
}

// Controller is the measurement scheduler: it keeps up to max_parallel_domains domains in
// flight, serializes exploration within a domain, and demultiplexes responses across domains by
// their identifier.
type Controller struct {
	exec        probe.Executor
	planner     *Planner
	writer      *results.Writer
	log         *logrus.Logger
	maxParallel int
	pairs       []Pair
	inFlight    map[int]*DomainState
	pending     map[int]*aggregation
	domainIx    int
	noMore      bool

	mu sync.Mutex // guards stats only; everything else is control-goroutine private
	controllerStats
}

// NewController builds a controller over the input pairs, deduplicated by domain with the first
// nameserver winning, mirroring the resolution pre-phase output order.
func NewController(exec probe.Executor, planner *Planner, writer *results.Writer, pairs []Pair,
	maxParallelDomains int, log *logrus.Logger) *Controller {

	t := &Controller{
		exec:        exec,
		planner:     planner,
		writer:      writer,
		log:         log,
		maxParallel: maxParallelDomains,
		inFlight:    make(map[int]*DomainState),
		pending:     make(map[int]*aggregation),
	}

	seen := make(map[string]bool)
	for _, pair := range pairs {
		if !seen[pair.Domain] {
			seen[pair.Domain] = true
			t.pairs = append(t.pairs, pair)
		}
	}
	log.Debugf("controller: using %d deduplicated domain/ns pairs", len(t.pairs))

	return t
}

// Run executes the measurement to completion. It returns a non-nil error on a fatal executor
// exception, a failed dispatch or a failed result row write, in which case in-flight queries are
// abandoned.
func (t *Controller) Run() error {
	for len(t.inFlight) < t.maxParallel && !t.noMore {
		if err := t.initiateNextDomain(); err != nil {
			return err
		}
	}

	for len(t.inFlight) > 0 {
		for _, resp := range t.exec.Poll(consts.PollTimeout) {
			if err := t.handleResponse(resp); err != nil {
				return err
			}
		}

		excs := t.exec.PollExceptions()
		for _, exc := range excs {
			t.log.Errorf("controller: executor exception: %v", exc)
		}
		if len(excs) > 0 {
			return fmt.Errorf("exiting due to %d executor exceptions", len(excs))
		}
	}

	return nil
}

// initiateNextDomain pulls the next input pair into the in-flight set and plans its first probe.
func (t *Controller) initiateNextDomain() error {
	if t.noMore {
		return nil
	}
	if t.domainIx >= len(t.pairs) {
		t.log.Debug("controller: no more domains available to scan")
		t.noMore = true
		return nil
	}

	pair := t.pairs[t.domainIx]
	state := &DomainState{
		Domain:       pair.Domain,
		NameserverIP: pair.NameserverIP,
		Identifier:   t.domainIx,
	}
	t.domainIx++
	t.log.Debugf("controller: scanning next domain %s (%s)", state.Domain, state.NameserverIP)
	t.inFlight[state.Identifier] = state

	return t.act(t.planner.Next(state, nil))
}

// act carries out one planner decision.
func (t *Controller) act(result Result) error {
	switch r := result.(type) {
	case Finished:
		t.log.Debugf("controller: finished scanning for domain %s", r.State.Domain)
		delete(t.inFlight, r.State.Identifier)
		t.addFinished()
		return t.initiateNextDomain()

	case Waiting:
		t.log.Debugf("controller: waiting for more results for %s", r.State.Domain)
		return nil

	case *QueryRequest:
		t.log.Debugf("controller: next probe for %s is %s/%d",
			r.State.Domain, r.ClientIP, r.SourcePrefixLen)
		t.pending[r.State.Identifier] = &aggregation{request: r}
		t.addDispatched()
		return t.exec.Dispatch(probe.Request{
			UserID:          r.State.Identifier,
			QName:           r.State.Domain,
			Server:          r.State.NameserverIP,
			ClientIP:        r.ClientIP,
			SourcePrefixLen: r.SourcePrefixLen,
			IPv6:            r.IPv6,
		})
	}

	return nil
}

// handleResponse files one per-instance response. Once every attached vantage point has
// reported for a request the rows are written and the aggregate goes back to the planner.
func (t *Controller) handleResponse(resp probe.InstResponse) error {
	t.addResponse()

	agg := t.pending[resp.UserID]
	if agg == nil { // late arrival for a domain already concluded
		t.addStray()
		t.log.Debugf("controller: stray response for identifier %d", resp.UserID)
		return nil
	}

	agg.responses = append(agg.responses, resp)
	if len(agg.responses) < t.exec.NumVPs() {
		return nil
	}

	state := t.inFlight[resp.UserID]
	for _, inst := range agg.responses {
		err := t.writer.Add(state.Domain, state.NameserverIP, agg.request.ClientIP,
			agg.request.SourcePrefixLen, inst)
		if err != nil {
			return fmt.Errorf("controller: cannot write result row: %w", err)
		}
	}

	delete(t.pending, resp.UserID)

	return t.act(t.planner.Next(state, &QueryResponse{Request: agg.request, Responses: agg.responses}))
}

//////////////////////////////////////////////////////////////////////
// Stats and the reporter.Reporter interface
//////////////////////////////////////////////////////////////////////

func (t *Controller) addDispatched() {
	t.mu.Lock()
	t.dispatched++
	t.mu.Unlock()
}

func (t *Controller) addResponse() {
	t.mu.Lock()
	t.responses++
	t.mu.Unlock()
}

func (t *Controller) addFinished() {
	t.mu.Lock()
	t.domainsFinished++
	t.mu.Unlock()
}

func (t *Controller) addStray() {
	t.mu.Lock()
	t.strays++
	t.mu.Unlock()
}

// Name meets the reporter.Reporter interface
func (t *Controller) Name() string {
	return "Controller"
}

// Report meets the reporter.Reporter interface
func (t *Controller) Report(resetCounters bool) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := fmt.Sprintf("q=%d resp=%d done=%d/%d stray=%d",
		t.dispatched, t.responses, t.domainsFinished, len(t.pairs), t.strays)
	if resetCounters {
		t.controllerStats = controllerStats{}
	}

	return s
}
