/*
Package config loads and validates the scanner's YAML configuration, the domains list and the
optional prefixes list. All validation failures are returned as errors which the commands map to
EX_CONFIG; nothing in here exits.
*/
package config

import (
	"fmt"
	"math"
	"net"
	"os"
	"regexp"
	"strings"

	"github.com/markdingo/ecsplorer/internal/bitfield"
	"github.com/markdingo/ecsplorer/internal/constants"
	"github.com/markdingo/ecsplorer/internal/ecstrie"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

var consts = constants.Get()

// domainNamePattern validates the entries of the domains list. The first label must not start
// with a hyphen and at least two labels are required; a trailing dot is tolerated.
var domainNamePattern = regexp.MustCompile(
	`^[A-Za-z0-9][A-Za-z0-9-]{0,62}(?:\.[A-Za-z0-9-]{1,63})+\.?$`)

// Config is the immutable run configuration. The exported fields map the YAML keys; the derived
// source-prefix table and the domains list are populated by Load and LoadDomainsList.
type Config struct {
	AddressFamilyNumber int         `yaml:"address_family_number"`
	SourcePrefixLength  int         `yaml:"source_prefix_length"`
	SourceAddressSpace  []string    `yaml:"source_address_space"`
	PerPrefixProbeLimit map[int]int `yaml:"per_prefix_probe_limit"`
	UseArkVantagePoints []string    `yaml:"use_ark_vantage_points"`
	MaxParallelDomains  int         `yaml:"max_parallel_domains"`

	IgnoreResponseScope bool `yaml:"-"` // set from the command line, not the file

	domains        []string
	sourcePrefixes map[uint64][]int // key integer -> prefix lengths configured there
}

// Load reads and validates the YAML configuration. If prefixesPath is non-empty the file's
// lines replace the source_address_space entries of the configuration.
func Load(configPath, prefixesPath string, ignoreResponseScope bool, log *logrus.Logger) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("the config file '%s' was not found: %w", configPath, err)
	}

	cfg := &Config{IgnoreResponseScope: ignoreResponseScope}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("error loading YAML config file: %w", err)
	}

	if cfg.AddressFamilyNumber != 1 && cfg.AddressFamilyNumber != 2 {
		return nil, fmt.Errorf("invalid 'address_family_number' in config")
	}
	log.Infof("Using 'address_family_number' %d.", cfg.AddressFamilyNumber)

	minSPL, maxSPL := consts.MinSourcePrefixLenIPv4, consts.MaxSourcePrefixLenIPv4
	if cfg.IPv6() {
		minSPL, maxSPL = consts.MinSourcePrefixLenIPv6, consts.MaxSourcePrefixLenIPv6
	}
	if cfg.SourcePrefixLength < minSPL || cfg.SourcePrefixLength > maxSPL {
		return nil, fmt.Errorf("invalid 'source_prefix_length'. Needs to be between %d and %d",
			minSPL, maxSPL)
	}
	log.Infof("Using 'source_prefix_length' %d.", cfg.SourcePrefixLength)

	prefixes := cfg.SourceAddressSpace
	if len(prefixesPath) > 0 {
		lines, err := readLines(prefixesPath)
		if err != nil {
			return nil, fmt.Errorf("the prefixes list file '%s' was not found: %w", prefixesPath, err)
		}
		prefixes = lines
	}
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("'source_address_space' not present in config and '--prefixes_list' not specified")
	}
	if err := cfg.parsePrefixes(prefixes); err != nil {
		return nil, err
	}
	log.Infof("Configured source address space of %d prefixes.", len(prefixes))

	if len(cfg.PerPrefixProbeLimit) == 0 {
		return nil, fmt.Errorf("invalid 'per_prefix_probe_limit'. Needs to be non-empty map with 'length: limit' items")
	}
	for depth, limit := range cfg.PerPrefixProbeLimit {
		if depth < 0 || depth > cfg.SourcePrefixLength {
			return nil, fmt.Errorf("invalid limit in 'per_prefix_probe_limit': depth /%d is beyond the source prefix length", depth)
		}
		// A /d prefix can hold at most 2^(SPL-d) probes of SPL length. The IPv6 SPL can
		// reach 64, so shifts at or beyond the int width leave the bound unbounded rather
		// than overflowing to zero.
		bound := math.MaxInt
		if shift := uint(cfg.SourcePrefixLength - depth); shift < 63 {
			bound = 1 << shift
		}
		if limit < 1 || limit > bound {
			return nil, fmt.Errorf("invalid limit in 'per_prefix_probe_limit': a limit of %d probes with /%d SPL per /%d is not within the sensible boundaries of [1, %d]",
				limit, cfg.SourcePrefixLength, depth, bound)
		}
	}

	if len(cfg.UseArkVantagePoints) == 0 {
		return nil, fmt.Errorf("invalid 'use_ark_vantage_points'. Needs to be non-empty list")
	}
	for _, name := range cfg.UseArkVantagePoints {
		log.Infof("Configured Ark VP '%s'.", name)
	}

	if cfg.MaxParallelDomains < 1 {
		return nil, fmt.Errorf("invalid 'max_parallel_domains' in config")
	}
	log.Infof("Using 'max_parallel_domains' %d.", cfg.MaxParallelDomains)

	return cfg, nil
}

// parsePrefixes validates the source prefixes (strict CIDR, matching family) and derives the
// key-integer table consumed by the trie.
func (t *Config) parsePrefixes(prefixes []string) error {
	t.sourcePrefixes = make(map[uint64][]int)
	for _, prefix := range prefixes {
		ip, ipNet, err := net.ParseCIDR(prefix)
		if err != nil {
			return fmt.Errorf("invalid prefix '%s' configured: %w", prefix, err)
		}
		if !ip.Equal(ipNet.IP) { // host bits set
			return fmt.Errorf("invalid prefix '%s' configured: has host bits set", prefix)
		}
		isV4 := ip.To4() != nil
		if isV4 == t.IPv6() {
			return fmt.Errorf("invalid prefix in 'source_address_space': %s is not of configured address family", prefix)
		}

		ones, _ := ipNet.Mask.Size()
		key := bitfield.KeyFromIP(ipNet.IP, t.IPv6())
		t.sourcePrefixes[key] = append(t.sourcePrefixes[key], ones)
	}

	return nil
}

// LoadDomainsList reads and validates the input domain names, one FQDN per line.
func (t *Config) LoadDomainsList(path string, log *logrus.Logger) error {
	lines, err := readLines(path)
	if err != nil {
		return fmt.Errorf("the domains list file '%s' was not found: %w", path, err)
	}

	for _, fqdn := range lines {
		if !domainNamePattern.MatchString(fqdn) {
			return fmt.Errorf("domains list entry '%s' is not a valid domain name", fqdn)
		}
		t.domains = append(t.domains, fqdn)
	}
	log.Infof("Read %d domains from file '%s'.", len(t.domains), path)

	return nil
}

// Domains returns the validated input domains in file order.
func (t *Config) Domains() []string {
	return t.domains
}

// IPv6 reports whether the configured address family is IPv6.
func (t *Config) IPv6() bool {
	return t.AddressFamilyNumber == 2
}

// SourcePrefixes returns the derived key-integer table of the configured source prefixes.
func (t *Config) SourcePrefixes() map[uint64][]int {
	return t.sourcePrefixes
}

// TrieParams builds the trie parameters shared by every domain scan of the run.
func (t *Config) TrieParams() *ecstrie.Params {
	return ecstrie.NewParams(t.SourcePrefixLength, t.IPv6(), t.PerPrefixProbeLimit, t.sourcePrefixes)
}

// readLines splits a file into lines, dropping a trailing empty line.
func readLines(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	for len(lines) > 0 && len(lines[len(lines)-1]) == 0 {
		lines = lines[:len(lines)-1]
	}

	return lines, nil
}
