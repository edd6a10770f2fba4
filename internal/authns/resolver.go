/*
Package authns implements the pre-phase of a measurement run: mapping each input domain to the
address of a responsible authoritative nameserver.

The NS RRset is looked up for the registered domain (a subdomain's authoritative is reachable
via its parent's delegation), each distinct nameserver name is then resolved to addresses, and
(domain, nameserver, address) triples are produced for every address that is not special-use.
Lookups go through the local recursive resolvers from resolv.conf, iterating over them on
failure.
*/
package authns

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/markdingo/ecsplorer/internal/constants"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"github.com/yl2chen/cidranger"
	"golang.org/x/net/publicsuffix"
)

const me = "authns"

var consts = constants.Get()

// specialUseCIDRs are address blocks a legitimate authoritative cannot live in: loopback,
// private, link-local, documentation, multicast and assorted reserved space.
var specialUseCIDRs = []string{
	"0.0.0.0/8", "10.0.0.0/8", "100.64.0.0/10", "127.0.0.0/8", "169.254.0.0/16",
	"172.16.0.0/12", "192.0.0.0/24", "192.0.2.0/24", "192.168.0.0/16", "198.18.0.0/15",
	"198.51.100.0/24", "203.0.113.0/24", "224.0.0.0/4", "240.0.0.0/4",
	"::/128", "::1/128", "::ffff:0:0/96", "64:ff9b::/96", "100::/64", "2001:db8::/32",
	"fc00::/7", "fe80::/10", "ff00::/8",
}

// Exchanger is the one dns.Client method this package uses. It exists so tests can supply a
// mock client.
type Exchanger interface {
	Exchange(query *dns.Msg, server string) (reply *dns.Msg, rtt time.Duration, err error)
}

// Config parameterizes a Resolver.
type Config struct {
	ResolvConfPath string
	IPv6           bool      // Resolve nameserver AAAA records instead of A
	Exchanger      Exchanger // nil means a default dns.Client
}

// Result is one (input domain, nameserver name, nameserver address) triple.
type Result struct {
	Domain string
	NSName string
	Addr   net.IP
}

// Resolver performs the pre-phase lookups.
type Resolver struct {
	config  Config
	servers []string // resolv.conf nameservers as host:port
	special cidranger.Ranger
	log     *logrus.Logger
}

// New loads resolv.conf and prepares the special-use address filter.
func New(config Config, log *logrus.Logger) (*Resolver, error) {
	t := &Resolver{config: config, log: log}
	if t.config.Exchanger == nil {
		t.config.Exchanger = &dns.Client{Timeout: consts.QueryWaitTimeout}
	}

	if len(t.config.ResolvConfPath) == 0 {
		return nil, errors.New(me + ": Empty resolv.conf path is invalid")
	}
	resolvConf, err := dns.ClientConfigFromFile(t.config.ResolvConfPath)
	if err != nil {
		return nil, errors.New(me + ": " + err.Error())
	}
	for _, s := range resolvConf.Servers {
		if strings.Contains(s, ":") { // Wrap ipv6 so the port can be safely appended
			s = "[" + s + "]"
		}
		t.servers = append(t.servers, s+":"+resolvConf.Port)
	}
	if len(t.servers) == 0 {
		return nil, errors.New(me + ": No nameservers found in " + t.config.ResolvConfPath)
	}

	t.special = cidranger.NewPCTrieRanger()
	for _, cidr := range specialUseCIDRs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			return nil, fmt.Errorf("%s: bad special-use block %s: %w", me, cidr, err)
		}
		if err := t.special.Insert(cidranger.NewBasicRangerEntry(*ipNet)); err != nil {
			return nil, fmt.Errorf("%s: cannot index special-use block %s: %w", me, cidr, err)
		}
	}

	return t, nil
}

// Resolve maps the input domains to authoritative nameserver addresses. Domains whose
// delegation cannot be resolved are dropped with a warning; only a total lookup failure is an
// error.
func (t *Resolver) Resolve(domains []string) ([]Result, error) {
	// Phase 1: NS RRsets for the registered domains. Multiple inputs may share one
	// registered domain so the mapping is target -> input domains.

	targetToDomains := make(map[string][]string)
	targets := make([]string, 0, len(domains))
	for _, domain := range domains {
		target := registeredDomain(domain)
		if _, seen := targetToDomains[target]; !seen {
			targets = append(targets, target)
		}
		targetToDomains[target] = append(targetToDomains[target], domain)
	}

	domainToNS := make(map[string][]string)
	distinctNS := make(map[string]bool)
	var nsNames []string
	for _, target := range targets {
		names, err := t.lookupNS(target)
		if err != nil {
			t.log.Warnf("%s: no NS RRset for %s: %v", me, target, err)
			continue
		}
		for _, domain := range targetToDomains[target] {
			domainToNS[domain] = names
		}
		for _, name := range names {
			if !distinctNS[name] {
				distinctNS[name] = true
				nsNames = append(nsNames, name)
			}
		}
	}

	// Phase 2: addresses for the distinct nameserver names.

	nsToAddrs := make(map[string][]net.IP)
	for _, name := range nsNames {
		addrs, err := t.lookupAddrs(name)
		if err != nil {
			t.log.Warnf("%s: could not resolve nameserver %s: %v", me, name, err)
			continue
		}
		nsToAddrs[name] = addrs
	}

	var out []Result
	for _, domain := range domains {
		for _, name := range domainToNS[domain] {
			for _, addr := range nsToAddrs[name] {
				if t.isSpecial(addr) {
					t.log.Debugf("%s: skipping special-use address %s for %s", me, addr, name)
					continue
				}
				out = append(out, Result{Domain: domain, NSName: name, Addr: addr})
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New(me + ": no domain resolved to a usable authoritative nameserver")
	}

	return out, nil
}

// registeredDomain reduces a name of arbitrary depth to the registered domain whose delegation
// carries the authoritative NS RRset. Names the public suffix list cannot split are kept as-is.
func registeredDomain(domain string) string {
	reg, err := publicsuffix.EffectiveTLDPlusOne(strings.TrimSuffix(domain, "."))
	if err != nil {
		return domain
	}

	return reg
}

// lookupNS returns the NS names for target.
func (t *Resolver) lookupNS(target string) ([]string, error) {
	reply, err := t.exchange(target, dns.TypeNS)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, rr := range reply.Answer {
		if ns, ok := rr.(*dns.NS); ok {
			names = append(names, ns.Ns)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("0 answer records with RCODE %s", dns.RcodeToString[reply.Rcode])
	}

	return names, nil
}

// lookupAddrs returns the A or AAAA addresses of name, per the configured family.
func (t *Resolver) lookupAddrs(name string) ([]net.IP, error) {
	qType := dns.TypeA
	if t.config.IPv6 {
		qType = dns.TypeAAAA
	}
	reply, err := t.exchange(name, qType)
	if err != nil {
		return nil, err
	}

	var addrs []net.IP
	for _, rr := range reply.Answer {
		switch a := rr.(type) {
		case *dns.A:
			addrs = append(addrs, a.A)
		case *dns.AAAA:
			addrs = append(addrs, a.AAAA)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("0 address records with RCODE %s", dns.RcodeToString[reply.Rcode])
	}

	return addrs, nil
}

// exchange issues one recursive query, iterating over the resolv.conf servers until one of them
// produces a usable reply.
func (t *Resolver) exchange(qName string, qType uint16) (*dns.Msg, error) {
	query := &dns.Msg{}
	query.SetQuestion(dns.Fqdn(qName), qType)
	query.RecursionDesired = true

	var lastErr error
	for _, server := range t.servers {
		reply, _, err := t.config.Exchanger.Exchange(query, server)
		if err != nil {
			lastErr = err
			continue
		}
		if reply.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("%s from %s", dns.RcodeToString[reply.Rcode], server)
			continue
		}

		return reply, nil
	}

	return nil, lastErr
}

// isSpecial reports whether addr falls in any special-use block.
func (t *Resolver) isSpecial(addr net.IP) bool {
	contained, err := t.special.Contains(addr)
	if err != nil {
		return true // unparseable addresses are not probe-worthy either
	}

	return contained
}
