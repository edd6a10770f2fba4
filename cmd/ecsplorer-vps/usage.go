package main

import (
	"fmt"
	"io"
	"text/template"
)

const usageMessageTemplate = `
NAME
          {{.VPsProgramName}} -- list vantage points available from the probe mux

SYNOPSIS
          {{.VPsProgramName}} --mux socket

DESCRIPTION
          {{.VPsProgramName}} connects to the probe mux daemon and prints the short name and
          country code of every vantage point it currently offers, one per line. Use it to
          populate the use_ark_vantage_points list in a {{.ScanProgramName}} configuration.

OPTIONS
          [-hv]
`

//////////////////////////////////////////////////////////////////////

func usage(out io.Writer) {
	tmpl, err := template.New("usage").Parse(usageMessageTemplate)
	if err != nil {
		panic(err) // We've messed up our template
	}
	err = tmpl.Execute(out, consts)
	if err != nil {
		panic(err) // We've messed up our template
	}
	flagSet.SetOutput(out)
	flagSet.PrintDefaults()
	fmt.Fprintln(out, "\nVersion:", consts.Version)
}

// parseCommandLine sets up the flags-to-config mapping and parses the supplied command line
// arguments.
func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.version, "v", false, "Print version and exit")
	flagSet.StringVar(&cfg.muxSocket, "mux", "", "The multiplexing `socket` of the probe mux daemon")

	return flagSet.Parse(args[1:])
}
