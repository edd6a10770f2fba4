/*
Package results appends the two measurement outputs below the output base directory: vps.csv
describing the attached vantage points and ecsresults.csv with one row per (query x vantage
point). Rows are written by the single control goroutine so nothing in here locks.
*/
package results

import (
	"encoding/csv"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/markdingo/ecsplorer/internal/constants"
	"github.com/markdingo/ecsplorer/internal/probe"
)

var consts = constants.Get()

// Writer appends rows to ecsresults.csv.
type Writer struct {
	file *os.File
	csv  *csv.Writer
}

// NewWriter creates ecsresults.csv in baseDir and writes the header row.
func NewWriter(baseDir string) (*Writer, error) {
	file, err := os.Create(filepath.Join(baseDir, consts.ResultsFileName))
	if err != nil {
		return nil, err
	}

	t := &Writer{file: file, csv: csv.NewWriter(file)}
	err = t.csv.Write([]string{"domain", "nameserver_ip", "vp_name", "client_subnet",
		"source_pl", "scope_pl", "error", "nsid", "answers", "cnames", "scan_timestamp"})
	if err != nil {
		file.Close()
		return nil, err
	}

	return t, nil
}

// Add writes the row for one per-instance response to one query. Answers and cnames arrive
// sorted from the response parser and are rendered space-separated.
func (t *Writer) Add(domain string, nameserverIP, clientSubnet net.IP, sourcePrefixLen int,
	resp probe.InstResponse) error {

	return t.csv.Write([]string{
		domain,
		nameserverIP.String(),
		resp.VP.Shortname,
		clientSubnet.String(),
		strconv.Itoa(sourcePrefixLen),
		strconv.Itoa(resp.ScopePrefixLen),
		strconv.FormatBool(resp.Err != nil),
		resp.NSID,
		strings.Join(resp.Answers, " "),
		strings.Join(resp.CNAMEs, " "),
		strconv.FormatInt(resp.Timestamp, 10),
	})
}

// Close flushes and closes the file.
func (t *Writer) Close() error {
	t.csv.Flush()
	if err := t.csv.Error(); err != nil {
		t.file.Close()
		return err
	}

	return t.file.Close()
}

// VPWriter writes vps.csv.
type VPWriter struct {
	file *os.File
	csv  *csv.Writer
}

// NewVPWriter creates vps.csv in baseDir and writes the header row.
func NewVPWriter(baseDir string) (*VPWriter, error) {
	file, err := os.Create(filepath.Join(baseDir, consts.VPsFileName))
	if err != nil {
		return nil, err
	}

	t := &VPWriter{file: file, csv: csv.NewWriter(file)}
	err = t.csv.Write([]string{"shortname", "cc", "state", "city", "lat", "lon", "ipv4", "asn4"})
	if err != nil {
		file.Close()
		return nil, err
	}

	return t, nil
}

// AddVPs writes one row per vantage point.
func (t *VPWriter) AddVPs(vps []probe.VantagePoint) error {
	for _, vp := range vps {
		err := t.csv.Write([]string{
			vp.Shortname,
			vp.CC,
			vp.State,
			vp.Place,
			strconv.FormatFloat(vp.Lat, 'f', -1, 64),
			strconv.FormatFloat(vp.Lon, 'f', -1, 64),
			vp.IPv4,
			strconv.FormatUint(uint64(vp.ASN4), 10),
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Close flushes and closes the file.
func (t *VPWriter) Close() error {
	t.csv.Flush()
	if err := t.csv.Error(); err != nil {
		t.file.Close()
		return err
	}

	return t.file.Close()
}
