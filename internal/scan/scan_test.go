package scan

import (
	"encoding/csv"
	"errors"
	"io"
	"math/rand"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/markdingo/ecsplorer/internal/bitfield"
	"github.com/markdingo/ecsplorer/internal/ecstrie"
	"github.com/markdingo/ecsplorer/internal/probe"
	"github.com/markdingo/ecsplorer/internal/results"

	"github.com/sirupsen/logrus"
)

// mockReply describes what one vantage point answers to every query.
type mockReply struct {
	scope int
	err   error
}

// mockExecutor answers every dispatch immediately with one canned reply per vantage point.
type mockExecutor struct {
	vps        []probe.VantagePoint
	replies    []mockReply
	dispatched []probe.Request
	queue      []probe.InstResponse
	exceptions []error
}

func (t *mockExecutor) AddVantagePoints(names []string) error { return nil }
func (t *mockExecutor) VantagePoints() []probe.VantagePoint   { return t.vps }
func (t *mockExecutor) NumVPs() int                           { return len(t.vps) }
func (t *mockExecutor) Close() error                          { return nil }

func (t *mockExecutor) Dispatch(req probe.Request) error {
	t.dispatched = append(t.dispatched, req)
	for i, vp := range t.vps {
		reply := t.replies[i]
		resp := probe.InstResponse{
			UserID:    req.UserID,
			VP:        vp,
			Err:       reply.err,
			Timestamp: time.Now().UTC().Unix(),
		}
		if reply.err == nil {
			resp.ScopePrefixLen = reply.scope
			resp.Answers = []string{"192.0.2.1"}
		}
		t.queue = append(t.queue, resp)
	}

	return nil
}

func (t *mockExecutor) Poll(_ time.Duration) []probe.InstResponse {
	out := t.queue
	t.queue = nil

	return out
}

func (t *mockExecutor) PollExceptions() []error {
	out := t.exceptions
	t.exceptions = nil

	return out
}

//////////////////////////////////////////////////////////////////////

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)

	return log
}

func testTrieParams(t *testing.T, spl int, limits map[int]int, cidrs ...string) *ecstrie.Params {
	prefixes := make(map[uint64][]int)
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			t.Fatal("Unexpected failure generating test data", cidr, err)
		}
		ones, _ := ipNet.Mask.Size()
		key := bitfield.KeyFromIP(ipNet.IP, false)
		prefixes[key] = append(prefixes[key], ones)
	}

	return ecstrie.NewParams(spl, false, limits, prefixes)
}

// runScan wires a controller over the mock executor for a single test domain and runs it to
// completion, returning the executor and the parsed result rows (header stripped).
func runScan(t *testing.T, exec *mockExecutor, params *ecstrie.Params, ignoreScope bool) [][]string {
	dir := t.TempDir()
	writer, err := results.NewWriter(dir)
	if err != nil {
		t.Fatal("Unexpected error creating writer", err)
	}

	log := quietLogger()
	planner := NewPlanner(params, false, ignoreScope, rand.New(rand.NewSource(1)), log)
	pairs := []Pair{{Domain: "x.test.", NameserverIP: net.ParseIP("192.0.2.53")}}
	controller := NewController(exec, planner, writer, pairs, 2, log)

	if err := controller.Run(); err != nil {
		t.Fatal("Unexpected controller error", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatal("Unexpected writer close error", err)
	}

	file, err := os.Open(filepath.Join(dir, "ecsresults.csv"))
	if err != nil {
		t.Fatal("Results file missing", err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatal("Results file unreadable", err)
	}
	if len(rows) == 0 || rows[0][0] != "domain" {
		t.Fatal("Results file has no header row")
	}

	return rows[1:]
}

var vp1 = probe.VantagePoint{Shortname: "vp1", CC: "de"}
var vp2 = probe.VantagePoint{Shortname: "vp2", CC: "us"}

// Trivial finish: one VP announcing scope=8 against a /8 budget of one. Exactly one probe is
// dispatched, one row written, then the domain is done.
func TestScanTrivialFinish(t *testing.T) {
	exec := &mockExecutor{vps: []probe.VantagePoint{vp1}, replies: []mockReply{{scope: 8}}}
	params := testTrieParams(t, 24, map[int]int{8: 1}, "10.0.0.0/8")

	rows := runScan(t, exec, params, false)

	if len(exec.dispatched) != 1 {
		t.Fatal("Expected exactly one dispatched probe, not", len(exec.dispatched))
	}
	req := exec.dispatched[0]
	if req.SourcePrefixLen != 24 {
		t.Error("Probe should carry the configured SPL, not", req.SourcePrefixLen)
	}
	if !req.ClientIP.Mask(net.CIDRMask(8, 32)).Equal(net.ParseIP("10.0.0.0").To4()) {
		t.Error("Probe client", req.ClientIP, "is outside 10.0.0.0/8")
	}

	if len(rows) != 1 {
		t.Fatal("Expected one result row, not", len(rows))
	}
	if rows[0][4] != "24" || rows[0][5] != "8" {
		t.Error("Row should record source_pl=24 scope_pl=8, not", rows[0][4], rows[0][5])
	}
	if rows[0][1] != "192.0.2.53" {
		t.Error("Row should record the nameserver address, not", rows[0][1])
	}
}

// Response-driven pruning: scope=16 against a budgeted /16 finishes the domain after a single
// exploration step.
func TestScanResponsePruning(t *testing.T) {
	exec := &mockExecutor{vps: []probe.VantagePoint{vp1}, replies: []mockReply{{scope: 16}}}
	params := testTrieParams(t, 24, map[int]int{16: 4}, "10.0.0.0/16")

	runScan(t, exec, params, false)

	if len(exec.dispatched) != 1 {
		t.Error("Scope feedback should finish the domain after one probe, not", len(exec.dispatched))
	}
}

// With --ignore-response-scope the same setup ignores the scope and explores until the /16
// budget fires: four announced probes, then the announced /16 collapses into a final probe.
func TestScanIgnoreResponseScope(t *testing.T) {
	exec := &mockExecutor{vps: []probe.VantagePoint{vp1}, replies: []mockReply{{scope: 16}}}
	params := testTrieParams(t, 24, map[int]int{16: 4}, "10.0.0.0/16")

	runScan(t, exec, params, true)

	if len(exec.dispatched) != 5 {
		t.Fatal("Expected 4 budgeted probes plus the terminal /16 probe, not", len(exec.dispatched))
	}
	seen := make(map[string]bool)
	for _, req := range exec.dispatched[:4] {
		if req.SourcePrefixLen != 24 {
			t.Error("Budgeted probe should be at SPL, not", req.SourcePrefixLen)
		}
		if seen[req.ClientIP.String()] {
			t.Error("Duplicate probe for", req.ClientIP)
		}
		seen[req.ClientIP.String()] = true
	}
	if exec.dispatched[4].SourcePrefixLen != 16 {
		t.Error("Terminal probe should target the /16 itself, not", exec.dispatched[4].SourcePrefixLen)
	}
}

// Multi-VP aggregation: the maximum scope across vantage points drives the trie, clamped to the
// request's source prefix length, while each row keeps its own scope.
func TestScanMultiVPAggregation(t *testing.T) {
	exec := &mockExecutor{
		vps:     []probe.VantagePoint{vp1, vp2},
		replies: []mockReply{{scope: 20}, {scope: 24}},
	}
	params := testTrieParams(t, 24, map[int]int{8: 1}, "10.0.0.0/8")

	rows := runScan(t, exec, params, false)

	// Probe 1 at /24 feeds scope 24 which marks a /24 node but finishes nothing; the /8
	// budget is spent so probe 2 is the /8 itself whose clamped scope (min(24,8)=8) marks
	// the /8 and ends the domain.
	if len(exec.dispatched) != 2 {
		t.Fatal("Expected two dispatched probes, not", len(exec.dispatched))
	}
	if exec.dispatched[1].SourcePrefixLen != 8 {
		t.Error("Second probe should be the announced /8, not", exec.dispatched[1].SourcePrefixLen)
	}

	if len(rows) != 4 {
		t.Fatal("Expected one row per (probe x VP), not", len(rows))
	}
	scopes := map[string]string{}
	for _, row := range rows[:2] {
		scopes[row[2]] = row[5]
	}
	if scopes["vp1"] != "20" || scopes["vp2"] != "24" {
		t.Error("Rows should keep per-VP scopes, got", scopes)
	}
}

// A per-instance error suppresses the trie update, still writes both rows with the error flag
// set correctly, and finishes the domain at the next planning step.
func TestScanInstanceErrorSuppressesFeedback(t *testing.T) {
	exec := &mockExecutor{
		vps:     []probe.VantagePoint{vp1, vp2},
		replies: []mockReply{{scope: 16}, {err: errors.New("timeout")}},
	}
	params := testTrieParams(t, 24, nil, "10.0.0.0/16")

	rows := runScan(t, exec, params, false)

	if len(exec.dispatched) != 1 {
		t.Fatal("Errored response should finish the domain after one step, not", len(exec.dispatched))
	}
	if len(rows) != 2 {
		t.Fatal("Expected both rows to be written, not", len(rows))
	}
	flags := map[string]string{}
	for _, row := range rows {
		flags[row[2]] = row[6]
	}
	if flags["vp1"] != "false" || flags["vp2"] != "true" {
		t.Error("Error flags wrong:", flags)
	}
}

// A fatal executor exception aborts the run with an error.
func TestScanFatalException(t *testing.T) {
	exec := &mockExecutor{vps: []probe.VantagePoint{vp1}, replies: []mockReply{{scope: 0}}}
	exec.exceptions = []error{errors.New("mux connection lost")}
	params := testTrieParams(t, 24, nil, "10.0.0.0/16")

	dir := t.TempDir()
	writer, err := results.NewWriter(dir)
	if err != nil {
		t.Fatal("Unexpected error creating writer", err)
	}
	defer writer.Close()

	log := quietLogger()
	planner := NewPlanner(params, false, false, rand.New(rand.NewSource(1)), log)
	pairs := []Pair{{Domain: "x.test.", NameserverIP: net.ParseIP("192.0.2.53")}}
	controller := NewController(exec, planner, writer, pairs, 1, log)

	if err := controller.Run(); err == nil {
		t.Error("Expected a fatal error from Run")
	}
}

// Input pairs are deduplicated by domain before scanning.
func TestControllerDedupsDomains(t *testing.T) {
	exec := &mockExecutor{vps: []probe.VantagePoint{vp1}, replies: []mockReply{{scope: 8}}}
	params := testTrieParams(t, 24, map[int]int{8: 1}, "10.0.0.0/8")

	dir := t.TempDir()
	writer, err := results.NewWriter(dir)
	if err != nil {
		t.Fatal("Unexpected error creating writer", err)
	}
	defer writer.Close()

	log := quietLogger()
	planner := NewPlanner(params, false, false, rand.New(rand.NewSource(1)), log)
	pairs := []Pair{
		{Domain: "x.test.", NameserverIP: net.ParseIP("192.0.2.53")},
		{Domain: "x.test.", NameserverIP: net.ParseIP("192.0.2.54")},
		{Domain: "y.test.", NameserverIP: net.ParseIP("192.0.2.55")},
	}
	controller := NewController(exec, planner, writer, pairs, 4, log)

	if err := controller.Run(); err != nil {
		t.Fatal("Unexpected controller error", err)
	}
	if len(controller.pairs) != 2 {
		t.Error("Expected 2 deduplicated pairs, not", len(controller.pairs))
	}
	targets := make(map[string]bool)
	for _, req := range exec.dispatched {
		targets[req.QName] = true
	}
	if len(targets) != 2 || !targets["x.test."] || !targets["y.test."] {
		t.Error("Expected probes for both distinct domains, got", targets)
	}
}
