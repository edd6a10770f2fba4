package main

import (
	"bytes"
	"strings"
	"testing"
)

func execute(args ...string) (int, string, string) {
	out := &bytes.Buffer{}
	err := &bytes.Buffer{}
	mainInit(out, err)
	code := mainExecute(append([]string{consts.VPsProgramName}, args...))

	return code, out.String(), err.String()
}

func TestHelp(t *testing.T) {
	code, out, _ := execute("-h")
	if code != 0 {
		t.Error("Expected exit 0 for -h, not", code)
	}
	if !strings.Contains(out, consts.VPsProgramName) {
		t.Error("Usage output should mention the program name")
	}
}

func TestVersion(t *testing.T) {
	code, out, _ := execute("-v")
	if code != 0 {
		t.Error("Expected exit 0 for -v, not", code)
	}
	if !strings.Contains(out, consts.Version) {
		t.Error("Version output should contain", consts.Version)
	}
}

func TestMissingMux(t *testing.T) {
	code, _, errOut := execute()
	if code != 1 {
		t.Error("Expected exit 1 without --mux, not", code)
	}
	if !strings.Contains(errOut, "--mux") {
		t.Error("Error should mention --mux, not", errOut)
	}
}
