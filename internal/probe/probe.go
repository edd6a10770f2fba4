/*
Package probe defines the contract between the measurement controller and whatever executes the
per-vantage-point DNS probes. The controller treats dispatch as an opaque service: it hands over
one Request per exploration step and drains per-instance responses as they trickle in, in any
order, demultiplexed by the user id tagging each query.
*/
package probe

import (
	"net"
	"time"
)

// VantagePoint describes one distributed probe host. The fields mirror what the mux reports and
// what ends up in vps.csv.
type VantagePoint struct {
	Shortname string  `json:"shortname"`
	CC        string  `json:"cc"`
	State     string  `json:"state"`
	Place     string  `json:"place"`
	Lat       float64 `json:"lat"`
	Lon       float64 `json:"lon"`
	IPv4      string  `json:"ipv4"`
	ASN4      uint32  `json:"asn4"`
}

// Request is one ECS-annotated probe: an A/AAAA query for QName sent to the authoritative at
// Server, carrying ClientIP/SourcePrefixLen as the client subnet and asking for NSID. The
// executor issues it once from every attached vantage point, tagged with UserID so responses
// find their way back to the right domain.
type Request struct {
	UserID          int // domain identifier, unique within the run
	QName           string
	Server          net.IP
	ClientIP        net.IP
	SourcePrefixLen int
	IPv6            bool
}

// InstResponse is the parsed outcome of one probe from one vantage point. Err is set when the
// instance failed; the remaining fields are then zero. Timestamp is Unix seconds UTC taken when
// the response was constructed.
type InstResponse struct {
	UserID         int
	VP             VantagePoint
	Answers        []string
	CNAMEs         []string
	ScopePrefixLen int
	NSID           string
	Err            error
	Timestamp      int64
}

// Executor abstracts probe dispatch. Implementations manage their own I/O concurrency; the
// controller only ever talks to an Executor from its single control goroutine.
type Executor interface {
	// AddVantagePoints selects a subset of the available VPs by name. It fails if any name
	// is not currently available.
	AddVantagePoints(names []string) error

	// VantagePoints returns the attached VPs in attach order.
	VantagePoints() []VantagePoint

	// NumVPs returns the number of attached VPs.
	NumVPs() int

	// Dispatch enqueues one query per attached VP. It does not wait for responses and gives
	// no ordering guarantee across dispatches.
	Dispatch(req Request) error

	// Poll drains ready responses, waiting at most timeout for the first one. It may return
	// fewer than NumVPs responses per dispatch; timing out is not an error.
	Poll(timeout time.Duration) []InstResponse

	// PollExceptions drains fatal executor errors. Any error returned here terminates the
	// run.
	PollExceptions() []error

	// Close releases the executor's resources.
	Close() error
}
