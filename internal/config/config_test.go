package config

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/markdingo/ecsplorer/internal/bitfield"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodYAML = `
address_family_number: 1
source_prefix_length: 24
source_address_space:
  - 10.0.0.0/8
  - 192.168.0.0/16
per_prefix_probe_limit:
  8: 16
  16: 4
use_ark_vantage_points:
  - vp1.example
  - vp2.example
max_parallel_domains: 10
`

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	return path
}

func TestLoadGoodConfig(t *testing.T) {
	cfg, err := Load(writeFile(t, "c.yaml", goodYAML), "", true, quietLogger())
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.AddressFamilyNumber)
	assert.False(t, cfg.IPv6())
	assert.Equal(t, 24, cfg.SourcePrefixLength)
	assert.Equal(t, 10, cfg.MaxParallelDomains)
	assert.True(t, cfg.IgnoreResponseScope)
	assert.Equal(t, []string{"vp1.example", "vp2.example"}, cfg.UseArkVantagePoints)
	assert.Equal(t, map[int]int{8: 16, 16: 4}, cfg.PerPrefixProbeLimit)

	prefixes := cfg.SourcePrefixes()
	assert.Contains(t, prefixes, uint64(0x0a000000))
	assert.Equal(t, []int{8}, prefixes[0x0a000000])
	assert.Contains(t, prefixes, uint64(0xc0a80000))

	params := cfg.TrieParams()
	require.NotNil(t, params)
	assert.Equal(t, 24, params.SPL)
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	for _, tc := range []struct {
		name string
		yaml string
	}{
		{"bad family", "address_family_number: 5\nsource_prefix_length: 24\n"},
		{"missing family", "source_prefix_length: 24\n"},
		{"spl too small", `
address_family_number: 1
source_prefix_length: 4
source_address_space: [10.0.0.0/8]
per_prefix_probe_limit: {8: 1}
use_ark_vantage_points: [vp1]
max_parallel_domains: 1
`},
		{"spl too large for v4", `
address_family_number: 1
source_prefix_length: 40
source_address_space: [10.0.0.0/8]
per_prefix_probe_limit: {8: 1}
use_ark_vantage_points: [vp1]
max_parallel_domains: 1
`},
		{"host bits", `
address_family_number: 1
source_prefix_length: 24
source_address_space: [10.0.0.1/8]
per_prefix_probe_limit: {8: 1}
use_ark_vantage_points: [vp1]
max_parallel_domains: 1
`},
		{"family mismatch", `
address_family_number: 1
source_prefix_length: 24
source_address_space: [2001:db8::/32]
per_prefix_probe_limit: {8: 1}
use_ark_vantage_points: [vp1]
max_parallel_domains: 1
`},
		{"no prefixes", `
address_family_number: 1
source_prefix_length: 24
source_address_space: []
per_prefix_probe_limit: {8: 1}
use_ark_vantage_points: [vp1]
max_parallel_domains: 1
`},
		{"limit too large", `
address_family_number: 1
source_prefix_length: 24
source_address_space: [10.0.0.0/8]
per_prefix_probe_limit: {20: 17}
use_ark_vantage_points: [vp1]
max_parallel_domains: 1
`},
		{"limit zero", `
address_family_number: 1
source_prefix_length: 24
source_address_space: [10.0.0.0/8]
per_prefix_probe_limit: {8: 0}
use_ark_vantage_points: [vp1]
max_parallel_domains: 1
`},
		{"no vps", `
address_family_number: 1
source_prefix_length: 24
source_address_space: [10.0.0.0/8]
per_prefix_probe_limit: {8: 1}
use_ark_vantage_points: []
max_parallel_domains: 1
`},
		{"bad parallelism", `
address_family_number: 1
source_prefix_length: 24
source_address_space: [10.0.0.0/8]
per_prefix_probe_limit: {8: 1}
use_ark_vantage_points: [vp1]
max_parallel_domains: 0
`},
	} {
		_, err := Load(writeFile(t, "c.yaml", tc.yaml), "", false, quietLogger())
		assert.Error(t, err, tc.name)
	}
}

// A near-maximal IPv6 SPL with shallow-depth limits must validate: the probe bound at depth 0
// or 1 exceeds the int width and is treated as unbounded instead of overflowing.
func TestLoadIPv6MaxSPLLimits(t *testing.T) {
	yaml := `
address_family_number: 2
source_prefix_length: 64
source_address_space: [2001:db8::/32]
per_prefix_probe_limit: {0: 4, 1: 8, 32: 16}
use_ark_vantage_points: [vp1]
max_parallel_domains: 1
`
	cfg, err := Load(writeFile(t, "c.yaml", yaml), "", false, quietLogger())
	require.NoError(t, err)
	assert.True(t, cfg.IPv6())
	assert.Equal(t, 64, cfg.SourcePrefixLength)
	assert.Equal(t, map[int]int{0: 4, 1: 8, 32: 16}, cfg.PerPrefixProbeLimit)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), "", false, quietLogger())
	assert.Error(t, err)
}

func TestPrefixesListOverridesConfig(t *testing.T) {
	prefixesPath := writeFile(t, "prefixes.txt", "172.16.0.0/12\n172.32.0.0/12\n")
	cfg, err := Load(writeFile(t, "c.yaml", goodYAML), prefixesPath, false, quietLogger())
	require.NoError(t, err)

	prefixes := cfg.SourcePrefixes()
	assert.NotContains(t, prefixes, uint64(0x0a000000), "config entries must be ignored")
	key := bitfield.KeyFromIP([]byte{172, 16, 0, 0}, false)
	assert.Contains(t, prefixes, key)
	assert.Equal(t, []int{12}, prefixes[key])
}

func TestLoadDomainsList(t *testing.T) {
	cfg, err := Load(writeFile(t, "c.yaml", goodYAML), "", false, quietLogger())
	require.NoError(t, err)

	path := writeFile(t, "domains.txt", "example.net\nwww.example.org.\nx.test\n")
	require.NoError(t, cfg.LoadDomainsList(path, quietLogger()))
	assert.Equal(t, []string{"example.net", "www.example.org.", "x.test"}, cfg.Domains())
}

func TestLoadDomainsListRejectsInvalid(t *testing.T) {
	cfg, err := Load(writeFile(t, "c.yaml", goodYAML), "", false, quietLogger())
	require.NoError(t, err)

	for _, bad := range []string{
		"-leading.example.net",
		"nodots",
		"spaces in.example.net",
		"",
	} {
		path := writeFile(t, "domains.txt", bad+"\nexample.net\n")
		assert.Error(t, cfg.LoadDomainsList(path, quietLogger()), "entry %q", bad)
	}
}

func TestLoadDomainsListMissingFile(t *testing.T) {
	cfg, err := Load(writeFile(t, "c.yaml", goodYAML), "", false, quietLogger())
	require.NoError(t, err)
	assert.Error(t, cfg.LoadDomainsList(filepath.Join(t.TempDir(), "nope.txt"), quietLogger()))
}
