package main

import (
	"fmt"
	"io"
	"text/template"
)

// The "flag" package is not tty aware so we've arbitrarily picked 100 columns as a conservative tty
// width for the usage output.

const usageMessageTemplate = `
NAME
          {{.ScanProgramName}} -- a response-aware EDNS Client Subnet scanner

SYNOPSIS
          {{.ScanProgramName}} --config file --domains_list file --output_basedir dir --mux socket
          [options]

DESCRIPTION
          {{.ScanProgramName}} discovers how authoritative nameservers respond to different client
          subnets ({{.RFC}}). For each input domain it finds a responsible authoritative,
          then issues ECS-annotated queries from the configured vantage points, adaptively
          choosing the next client subnet from the scope prefix lengths returned so far.

          Results are written to two CSV files below --output_basedir: one row per attached
          vantage point and one row per (query x vantage point).

          Send SIGUSR1 to print controller statistics to the log.

EXAMPLES
            $ {{.ScanProgramName}} --config ipv4.yaml --domains_list domains.txt \
              --output_basedir /data/run1 --mux /var/run/probemux.sock

            $ {{.ScanProgramName}} --config ipv4.yaml --domains_list domains.txt \
              --prefixes_list announced-v4.txt --output_basedir /data/run2 \
              --mux /var/run/probemux.sock --ignore-response-scope

OPTIONS
          [-hv] [--gops] [--log-debug] [--random-seed seed]

          [--prefixes_list file] [--ignore-response-scope]

          [--setuid user] [--setgid group] [--chroot directory]
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
// arguments. It starts from scratch each time to make it easier for test wrappers to use.
func parseCommandLine(args []string) error {
	flagSet.BoolVar(&cfg.help, "h", false, "Print usage message to Stdout then exit(0)")
	flagSet.BoolVar(&cfg.version, "v", false, "Print version and exit")
	flagSet.BoolVar(&cfg.gops, "gops", false, "Start github.com/google/gops agent")

	flagSet.StringVar(&cfg.configPath, "config", "", "Path to the YAML config `file`")
	flagSet.StringVar(&cfg.domainsPath, "domains_list", "", "`File` that contains list of input domain names")
	flagSet.StringVar(&cfg.prefixesPath, "prefixes_list", "",
		"`File` that contains list of prefixes. If set the config file entries are ignored")
	flagSet.StringVar(&cfg.outputBasedir, "output_basedir", "", "Base `directory` for output data")
	flagSet.StringVar(&cfg.muxSocket, "mux", "", "The multiplexing `socket` of the probe mux daemon")

	flagSet.BoolVar(&cfg.ignoreResponseScope, "ignore-response-scope", false,
		"Ignore the scope prefix length when scheduling measurements")
	flagSet.BoolVar(&cfg.logDebug, "log-debug", false, "Log at debug level")
	flagSet.Int64Var(&cfg.randomSeed, "random-seed", 0,
		"`Seed` for the child-order PRNG. Zero seeds from entropy")

	flagSet.StringVar(&cfg.constrainUser, "setuid", "", "Downgrade process to `user` before scanning")
	flagSet.StringVar(&cfg.constrainGroup, "setgid", "", "Downgrade process to `group` before scanning")
	flagSet.StringVar(&cfg.chrootDir, "chroot", "", "Chroot to `directory` before scanning")

	return flagSet.Parse(args[1:])
}
