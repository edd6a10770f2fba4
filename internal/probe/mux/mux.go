/*
Package mux implements the probe.Executor over the probe mux daemon which fronts the distributed
vantage points.

The daemon listens on a unix-domain socket and speaks newline-delimited JSON. The client issues
a "vps" listing at connect time, attaches the configured vantage points with "attach", and then
streams "query" messages carrying fully-formed DNS queries as packed message bytes. The daemon
sends each query from the named vantage point and returns the packed response (or a per-instance
error string) in a "result" message; unrecoverable daemon-side failures arrive as "fatal". All
DNS semantics stay on this side of the socket: queries are built and responses parsed with
miekg/dns so the daemon never needs to understand what it is forwarding.

A single reader goroutine owns the inbound half of the connection and demultiplexes results and
fatals onto channels drained by Poll and PollExceptions. The outbound half is guarded by a mutex
so Dispatch is safe to call while the handshake channels drain.
*/
package mux

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/markdingo/ecsplorer/internal/constants"
	"github.com/markdingo/ecsplorer/internal/dnsutil"
	"github.com/markdingo/ecsplorer/internal/probe"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

const me = "probemux"

var consts = constants.Get()

// envelope is the single wire message shape. Op selects which fields matter.
type envelope struct {
	Op        string               `json:"op"` // "vps", "attach", "query", "result", "fatal"
	ID        int                  `json:"id,omitempty"`
	VP        string               `json:"vp,omitempty"`
	Names     []string             `json:"names,omitempty"` // attach request
	List      []probe.VantagePoint `json:"list,omitempty"`  // vps reply
	Server    string               `json:"server,omitempty"`
	Msg       []byte               `json:"msg,omitempty"` // packed dns.Msg, base64 on the wire
	TimeoutMs int                  `json:"timeout_ms,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Client is the probe.Executor talking to a mux daemon.
type Client struct {
	log  *logrus.Logger
	conn net.Conn
	dec  *json.Decoder

	wmu sync.Mutex // serializes writes to conn
	enc *json.Encoder

	available map[string]probe.VantagePoint
	attached  []probe.VantagePoint

	responses chan probe.InstResponse
	fatals    chan error

	closeOnce sync.Once
	closed    chan struct{}
}

// Dial connects to the mux daemon socket and lists the currently available vantage points. The
// reader goroutine is not started until AddVantagePoints has completed the handshake.
func Dial(socketPath string, log *logrus.Logger) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("%s: cannot reach mux at %s: %w", me, socketPath, err)
	}

	t := &Client{
		log:       log,
		conn:      conn,
		dec:       json.NewDecoder(bufio.NewReader(conn)),
		enc:       json.NewEncoder(conn),
		available: make(map[string]probe.VantagePoint),
		responses: make(chan probe.InstResponse, 1024),
		fatals:    make(chan error, 16),
		closed:    make(chan struct{}),
	}

	if err := t.send(envelope{Op: "vps"}); err != nil {
		conn.Close()
		return nil, err
	}
	var reply envelope
	if err := t.dec.Decode(&reply); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: vps listing failed: %w", me, err)
	}
	if reply.Op != "vps" {
		conn.Close()
		return nil, fmt.Errorf("%s: unexpected %q reply to vps listing", me, reply.Op)
	}
	for _, vp := range reply.List {
		t.available[vp.Shortname] = vp
	}

	return t, nil
}

// Available returns every vantage point the mux currently offers, attached or not.
func (t *Client) Available() []probe.VantagePoint {
	out := make([]probe.VantagePoint, 0, len(t.available))
	for _, vp := range t.available {
		out = append(out, vp)
	}

	return out
}

// AddVantagePoints attaches the named VPs and starts the reader goroutine. Every configured
// name must be available from the mux right now.
func (t *Client) AddVantagePoints(names []string) error {
	for _, name := range names {
		if _, ok := t.available[name]; !ok {
			return fmt.Errorf("%s: configured vantage point %q is not active", me, name)
		}
	}
	for _, name := range names {
		t.attached = append(t.attached, t.available[name])
	}

	if err := t.send(envelope{Op: "attach", Names: names}); err != nil {
		return err
	}
	var reply envelope
	if err := t.dec.Decode(&reply); err != nil {
		return fmt.Errorf("%s: attach failed: %w", me, err)
	}
	if reply.Op != "attach" || len(reply.Error) > 0 {
		return fmt.Errorf("%s: mux refused attach: %s", me, reply.Error)
	}

	go t.reader()

	return nil
}

// VantagePoints returns the attached VPs in attach order.
func (t *Client) VantagePoints() []probe.VantagePoint {
	return t.attached
}

// NumVPs returns the number of attached VPs.
func (t *Client) NumVPs() int {
	return len(t.attached)
}

// Dispatch builds the ECS query for req and submits one copy per attached vantage point.
func (t *Client) Dispatch(req probe.Request) error {
	query := dnsutil.NewECSQuery(req.QName, req.IPv6, req.ClientIP, req.SourcePrefixLen)
	packed, err := query.Pack()
	if err != nil {
		return fmt.Errorf("%s: cannot pack query for %s: %w", me, req.QName, err)
	}

	server := net.JoinHostPort(req.Server.String(), consts.DNSDefaultPort)
	for _, vp := range t.attached {
		err := t.send(envelope{
			Op:        "query",
			ID:        req.UserID,
			VP:        vp.Shortname,
			Server:    server,
			Msg:       packed,
			TimeoutMs: int(consts.QueryWaitTimeout / time.Millisecond),
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Poll waits at most timeout for a response then drains whatever else is already here.
func (t *Client) Poll(timeout time.Duration) []probe.InstResponse {
	var out []probe.InstResponse

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-t.responses:
		out = append(out, resp)
	case <-timer.C:
		return out
	case <-t.closed:
		return out
	}

	for {
		select {
		case resp := <-t.responses:
			out = append(out, resp)
		default:
			return out
		}
	}
}

// PollExceptions drains fatal executor errors without blocking.
func (t *Client) PollExceptions() []error {
	var out []error
	for {
		select {
		case err := <-t.fatals:
			out = append(out, err)
		default:
			return out
		}
	}
}

// Close shuts the mux connection down. The reader goroutine exits on the dead connection.
func (t *Client) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })

	return t.conn.Close()
}

func (t *Client) send(env envelope) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if err := t.enc.Encode(env); err != nil { // Encode appends the newline
		return fmt.Errorf("%s: write to mux failed: %w", me, err)
	}

	return nil
}

// reader owns the inbound half of the connection for the rest of the client's life.
func (t *Client) reader() {
	for {
		var env envelope
		if err := t.dec.Decode(&env); err != nil {
			select {
			case <-t.closed: // a deliberate Close is not an exception
			default:
				t.fatals <- fmt.Errorf("%s: mux connection lost: %w", me, err)
			}
			return
		}

		switch env.Op {
		case "result":
			t.responses <- t.parseResult(env)
		case "fatal":
			t.fatals <- fmt.Errorf("%s: mux reported: %s", me, env.Error)
		default:
			t.log.Debugf("%s: ignoring unexpected %q message", me, env.Op)
		}
	}
}

// parseResult turns a wire result into an InstResponse, unpacking and parsing the DNS payload
// when the instance did not error.
func (t *Client) parseResult(env envelope) probe.InstResponse {
	resp := probe.InstResponse{
		UserID:    env.ID,
		VP:        t.available[env.VP],
		Timestamp: time.Now().UTC().Unix(),
	}

	if len(env.Error) > 0 {
		resp.Err = errors.New(env.Error)
		return resp
	}

	reply := &dns.Msg{}
	if err := reply.Unpack(env.Msg); err != nil {
		resp.Err = fmt.Errorf("unpack: %w", err)
		return resp
	}

	parsed := dnsutil.ParseResponse(reply)
	resp.Answers = parsed.Answers
	resp.CNAMEs = parsed.CNAMEs
	resp.ScopePrefixLen = parsed.ScopePrefixLen
	resp.NSID = parsed.NSID

	return resp
}
