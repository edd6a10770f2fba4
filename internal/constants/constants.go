/*
Package constants provides common values used across all ecsplorer packages. Usage is to call the
global Get() function which returns the Constants by value ensuring that any modifications made
(accidental or otherwise) will not affect other modules when they call Get().

Typically usage:

    consts := constants.Get()
    fmt.Println("I am", consts.ScanProgramName, "based on", consts.RFC)

The primary reason for making this a constructed struct rather than the more typical const () block
is so that it can be fed directly into templating packages for printing usage messages.
*/
package constants

import "time"

// Constants contains the system-wide constants
type Constants struct {
	ScanProgramName string // Package related constants
	VPsProgramName  string
	Version         string
	PackageName     string
	PackageURL      string
	RFC             string

	ExOK       int // Exit codes per sysexits.h as used by the original toolchain
	ExConfig   int
	ExSoftware int
	ExFatal    int

	EDNS0SubnetCode uint16 // DNS EDNS0 Option Codes (OPT)
	EDNS0NSIDCode   uint16
	ECSFamilyIPv4   uint16 // Address family numbers in the ECS option
	ECSFamilyIPv6   uint16

	DNSDefaultPort string

	MinSourcePrefixLenIPv4 int // Bounds on the configurable source prefix length
	MaxSourcePrefixLenIPv4 int
	MinSourcePrefixLenIPv6 int
	MaxSourcePrefixLenIPv6 int

	ResultsFileName string // CSV outputs written below --output_basedir
	VPsFileName     string

	PollTimeout      time.Duration // Executor poll interval of the controller
	QueryWaitTimeout time.Duration // Per-query timeout handed to the mux
}

var readOnlyConstants *Constants

// createReadOnlyConstants creates a read-only copy of the Constants which is copied whenever a
// caller asks for the constants set.
func createReadOnlyConstants() {
	readOnlyConstants = &Constants{
		ScanProgramName: "ecsplorer-scan",
		VPsProgramName:  "ecsplorer-vps",
		Version:         "v0.1.2",
		PackageName:     "ECSplorer",
		PackageURL:      "https://github.com/markdingo/ecsplorer",
		RFC:             "RFC7871",

		ExOK:       0,
		ExConfig:   78, // EX_CONFIG
		ExSoftware: 70, // EX_SOFTWARE
		ExFatal:    1,

		EDNS0SubnetCode: 8,
		EDNS0NSIDCode:   3,
		ECSFamilyIPv4:   1,
		ECSFamilyIPv6:   2,

		DNSDefaultPort: "53",

		MinSourcePrefixLenIPv4: 8,
		MaxSourcePrefixLenIPv4: 32,
		MinSourcePrefixLenIPv6: 12,
		MaxSourcePrefixLenIPv6: 64,

		ResultsFileName: "ecsresults.csv",
		VPsFileName:     "vps.csv",

		PollTimeout:      10 * time.Second,
		QueryWaitTimeout: 3 * time.Second,
	}
}

func init() {
	createReadOnlyConstants()
}

// Get returns a copy of the Constant struct. Return by value so internal values cannot be
// inadvertently changed by callers.
func Get() Constants {
	return *readOnlyConstants
}
