// List the vantage points currently available from the probe mux
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/markdingo/ecsplorer/internal/constants"
	"github.com/markdingo/ecsplorer/internal/probe/mux"

	"github.com/sirupsen/logrus"
)

// Program-wide variables
var (
	consts = constants.Get()
	cfg    *config

	stdout io.Writer
	stderr io.Writer

	flagSet *flag.FlagSet
)

type config struct {
	help    bool
	version bool

	muxSocket string
}

//////////////////////////////////////////////////////////////////////

func fatal(args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.VPsProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return 1
}

//////////////////////////////////////////////////////////////////////
// main is a wrapper for mainExecute() so tests can call mainExecute()
//////////////////////////////////////////////////////////////////////

func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	stdout = out
	stderr = err
}

func main() {
	mainInit(os.Stdout, os.Stderr)
	os.Exit(mainExecute(os.Args))
}

func mainExecute(args []string) int {
	flagSet = flag.NewFlagSet(args[0], flag.ContinueOnError)
	flagSet.SetOutput(stderr)
	err := parseCommandLine(args)
	if err != nil {
		return 1 // Error already printed by the flag package
	}
	if cfg.help {
		usage(stdout)
		return 0
	}
	if cfg.version {
		fmt.Fprintln(stdout, consts.VPsProgramName, "Version:", consts.Version)
		return 0
	}
	if len(cfg.muxSocket) == 0 {
		return fatal("--mux is required. Consider -h")
	}

	quiet := logrus.New()
	quiet.SetOutput(io.Discard)
	client, err := mux.Dial(cfg.muxSocket, quiet)
	if err != nil {
		return fatal(err)
	}
	defer client.Close()

	vps := client.Available()
	sort.Slice(vps, func(i, j int) bool { return vps[i].Shortname < vps[j].Shortname })
	for _, vp := range vps {
		fmt.Fprintln(stdout, vp.Shortname, vp.CC)
	}

	return 0
}
