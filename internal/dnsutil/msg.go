/*
Package dnsutil builds the ECS-annotated probe queries and picks apart the fiddly EDNS0 bits of
the responses in a "github.com/miekg/dns.Msg". All DNS wire knowledge of the scanner lives here;
the probe transport only moves packed messages around.
*/
package dnsutil

import (
	"net"
	"sort"

	"github.com/markdingo/ecsplorer/internal/constants"

	"github.com/miekg/dns"
)

var (
	consts = constants.Get()
)

// FindOPT searches dns.Msg.Extra for the first occurrence of an OPT RR. There should only be one.
//
// Return *dns.OPT if found otherwise nil
func FindOPT(m *dns.Msg) *dns.OPT {
	for _, rr := range m.Extra {
		if opt, ok := rr.(*dns.OPT); ok {
			return opt
		}
	}

	return nil
}

// FindECS searches every OPT RR in the Extra list for an EDNS_SUBNET sub-option. The
// multi-occurrence search is more aggressive than the DNS message format intends but we really
// don't want a scope to be missed even if it is ostensibly not in exactly the right place.
//
// Return the containing OPT RR and sub-option otherwise nil, nil
func FindECS(m *dns.Msg) (*dns.OPT, *dns.EDNS0_SUBNET) {
	for _, rr := range m.Extra {
		if opt, ok := rr.(*dns.OPT); ok {
			for _, subOpt := range opt.Option {
				if ecs, ok := subOpt.(*dns.EDNS0_SUBNET); ok {
					return opt, ecs
				}
			}
		}
	}

	return nil, nil
}

// NewOPT creates a populated msg.OPT RR as a zero-values struct is not a valid OPT. SetUDPSize
// has to be set for some resolvers that are ECS aware.
func NewOPT() *dns.OPT {
	optRR := &dns.OPT{}
	optRR.SetVersion(0)
	optRR.SetUDPSize(dns.DefaultMsgSize)
	optRR.Hdr.Name = "."
	optRR.Hdr.Rrtype = dns.TypeOPT

	return optRR
}

// NewECSQuery constructs the probe query for one (domain, client subnet) tuple: an A or AAAA
// question with recursion off, an ECS sub-option carrying clientIP/sourcePrefixLen with a scope
// of zero, and an empty NSID sub-option asking the server to identify itself.
func NewECSQuery(qName string, ipv6 bool, clientIP net.IP, sourcePrefixLen int) *dns.Msg {
	qType := dns.TypeA
	family := consts.ECSFamilyIPv4
	if ipv6 {
		qType = dns.TypeAAAA
		family = consts.ECSFamilyIPv6
	}

	query := &dns.Msg{}
	query.SetQuestion(dns.Fqdn(qName), qType)
	query.RecursionDesired = false

	optRR := NewOPT()
	optRR.Option = append(optRR.Option, &dns.EDNS0_SUBNET{
		Code:          dns.EDNS0SUBNET,
		Family:        family,
		SourceNetmask: uint8(sourcePrefixLen),
		SourceScope:   0,
		Address:       clientIP, // dns.OPT.pack() truncates this to SourceNetmask
	})
	optRR.Option = append(optRR.Option, &dns.EDNS0_NSID{Code: dns.EDNS0NSID})
	query.Extra = append(query.Extra, optRR)

	return query
}

// ParsedResponse is what the scanner keeps from one probe response.
type ParsedResponse struct {
	Answers         []string // A/AAAA addresses, sorted
	CNAMEs          []string // CNAME targets, sorted
	ScopePrefixLen  int      // From the ECS sub-option; 0 when absent
	SourcePrefixLen int      // Echoed source netmask; 0 when absent
	NSID            string   // 0x-prefixed hex, empty when absent
}

// ParseResponse extracts answers, cnames, the announced scope prefix length and the NSID from a
// probe response.
func ParseResponse(m *dns.Msg) ParsedResponse {
	var parsed ParsedResponse

	for _, rr := range m.Answer {
		switch a := rr.(type) {
		case *dns.A:
			parsed.Answers = append(parsed.Answers, a.A.String())
		case *dns.AAAA:
			parsed.Answers = append(parsed.Answers, a.AAAA.String())
		case *dns.CNAME:
			parsed.CNAMEs = append(parsed.CNAMEs, a.Target)
		}
	}
	sort.Strings(parsed.Answers)
	sort.Strings(parsed.CNAMEs)

	if _, ecs := FindECS(m); ecs != nil {
		parsed.SourcePrefixLen = int(ecs.SourceNetmask)
		parsed.ScopePrefixLen = int(ecs.SourceScope)
	}

	if opt := FindOPT(m); opt != nil {
		for _, subOpt := range opt.Option {
			if nsid, ok := subOpt.(*dns.EDNS0_NSID); ok && len(nsid.Nsid) > 0 {
				parsed.NSID = "0x" + nsid.Nsid // miekg keeps the payload hex-encoded
			}
		}
	}

	return parsed
}
