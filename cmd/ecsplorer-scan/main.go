// Probe authoritative nameservers with EDNS Client Subnet options from distributed vantage
// points and record the scopes they announce.
package main

import (
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/markdingo/ecsplorer/internal/authns"
	runconfig "github.com/markdingo/ecsplorer/internal/config"
	"github.com/markdingo/ecsplorer/internal/constants"
	"github.com/markdingo/ecsplorer/internal/ecstrie"
	"github.com/markdingo/ecsplorer/internal/osutil"
	"github.com/markdingo/ecsplorer/internal/probe/mux"
	"github.com/markdingo/ecsplorer/internal/reporter"
	"github.com/markdingo/ecsplorer/internal/results"
	"github.com/markdingo/ecsplorer/internal/scan"

	"github.com/google/gops/agent"
	"github.com/sirupsen/logrus"
)

// Program-wide variables
var (
	consts = constants.Get()
	cfg    *config

	stdout io.Writer // All I/O goes via these writers
	stderr io.Writer

	stopChannel chan os.Signal
	flagSet     *flag.FlagSet

	// Test seams. Tests point resolvConfPath at a fixture and inject a mock exchanger so the
	// pre-phase never touches a live resolver.
	resolvConfPath  string
	authNSExchanger authns.Exchanger
)

//////////////////////////////////////////////////////////////////////

func fatal(exitCode int, args ...interface{}) int {
	fmt.Fprint(stderr, "Fatal: ", consts.ScanProgramName, ": ")
	fmt.Fprintln(stderr, args...)

	return exitCode
}

//////////////////////////////////////////////////////////////////////
// main wrappers make it easy for test programs
//////////////////////////////////////////////////////////////////////

func mainInit(out io.Writer, err io.Writer) {
	cfg = &config{}
	stdout = out
	stderr = err
	resolvConfPath = "/etc/resolv.conf"
	authNSExchanger = nil
	stopChannel = make(chan os.Signal, 4)
	osutil.SignalNotify(stopChannel)
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
		fmt.Fprintln(stdout, consts.ScanProgramName, "Version:", consts.Version)
		return 0
	}
	if flagSet.NArg() > 0 {
		return fatal(consts.ExConfig, "Unexpected parameters on the command line:", flagSet.Arg(0))
	}

	for _, required := range []struct{ name, value string }{
		{"--config", cfg.configPath},
		{"--domains_list", cfg.domainsPath},
		{"--output_basedir", cfg.outputBasedir},
		{"--mux", cfg.muxSocket},
	} {
		if len(required.value) == 0 {
			return fatal(consts.ExConfig, required.name, "is required. Consider -h")
		}
	}

	if err := os.MkdirAll(cfg.outputBasedir, 0755); err != nil {
		return fatal(consts.ExConfig, "Cannot create --output_basedir:", err)
	}

	log, logFile, err := newLogger()
	if err != nil {
		return fatal(consts.ExSoftware, err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	ecstrie.SetLogger(log)

	if cfg.gops {
		if err := agent.Listen(agent.Options{}); err != nil {
			return fatal(consts.ExSoftware, "gops agent failed to start:", err)
		}
		defer agent.Close()
	}

	// Load and validate the run configuration and the domains list

	runCfg, err := runconfig.Load(cfg.configPath, cfg.prefixesPath, cfg.ignoreResponseScope, log)
	if err != nil {
		log.Error(err)
		return fatal(consts.ExConfig, err)
	}
	if err := runCfg.LoadDomainsList(cfg.domainsPath, log); err != nil {
		log.Error(err)
		return fatal(consts.ExConfig, err)
	}

	// Pre-phase: find a responsible authoritative for each input domain

	nsResolver, err := authns.New(authns.Config{
		ResolvConfPath: resolvConfPath,
		IPv6:           runCfg.IPv6(),
		Exchanger:      authNSExchanger,
	}, log)
	if err != nil {
		log.Error(err)
		return fatal(consts.ExSoftware, err)
	}
	triples, err := nsResolver.Resolve(runCfg.Domains())
	if err != nil {
		log.Error(err)
		return fatal(consts.ExSoftware, err)
	}
	pairs := make([]scan.Pair, 0, len(triples))
	for _, triple := range triples {
		pairs = append(pairs, scan.Pair{Domain: triple.Domain, NameserverIP: triple.Addr})
	}

	// Attach to the probe mux and record the vantage points

	executor, err := mux.Dial(cfg.muxSocket, log)
	if err != nil {
		log.Error(err)
		return fatal(consts.ExSoftware, err)
	}
	defer executor.Close()
	if err := executor.AddVantagePoints(runCfg.UseArkVantagePoints); err != nil {
		// A configured VP that is not currently available is a configuration problem
		log.Error(err)
		return fatal(consts.ExConfig, err)
	}
	log.Infof("Using %d vantage point(s).", executor.NumVPs())

	vpWriter, err := results.NewVPWriter(cfg.outputBasedir)
	if err != nil {
		return fatal(consts.ExSoftware, "Cannot create vps.csv:", err)
	}
	if err := vpWriter.AddVPs(executor.VantagePoints()); err != nil {
		return fatal(consts.ExSoftware, "Cannot write vps.csv:", err)
	}
	if err := vpWriter.Close(); err != nil {
		return fatal(consts.ExSoftware, "Cannot write vps.csv:", err)
	}

	writer, err := results.NewWriter(cfg.outputBasedir)
	if err != nil {
		return fatal(consts.ExSoftware, "Cannot create ecsresults.csv:", err)
	}
	defer writer.Close()

	// Downgrade the process before any measurement traffic flows

	if len(cfg.constrainUser) > 0 || len(cfg.constrainGroup) > 0 || len(cfg.chrootDir) > 0 {
		if err := osutil.Constrain(cfg.constrainUser, cfg.constrainGroup, cfg.chrootDir); err != nil {
			log.Error(err)
			return fatal(consts.ExSoftware, err)
		}
		log.Info("Constraint: ", osutil.ConstraintReport())
	}

	seed := cfg.randomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	planner := scan.NewPlanner(runCfg.TrieParams(), runCfg.IPv6(),
		runCfg.IgnoreResponseScope, rng, log)
	controller := scan.NewController(executor, planner, writer, pairs,
		runCfg.MaxParallelDomains, log)

	go watchSignals(controller, log)

	if err := controller.Run(); err != nil {
		log.Error(err)
		return fatal(consts.ExFatal, err)
	}
	log.Infof("Scan complete: %s", controller.Report(false))

	return consts.ExOK
}

// newLogger sets up logging to stderr plus a timestamped file below the output directory.
func newLogger() (*logrus.Logger, *os.File, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if cfg.logDebug {
		log.SetLevel(logrus.DebugLevel)
	}

	name := fmt.Sprintf("%s-%d.log", time.Now().Format("2006-01-02"), os.Getpid())
	logFile, err := os.OpenFile(filepath.Join(cfg.outputBasedir, name),
		os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot open log file: %w", err)
	}
	log.SetOutput(io.MultiWriter(stderr, logFile))

	return log, logFile, nil
}

// watchSignals prints the reporter's statistics on USR1 and terminates on anything else. There
// is no graceful drain of in-flight queries.
func watchSignals(rep reporter.Reporter, log *logrus.Logger) {
	for sig := range stopChannel {
		if osutil.IsSignalUSR1(sig) {
			log.Infof("%s: %s", rep.Name(), rep.Report(false))
			continue
		}
		log.Infof("Signal %v received, exiting", sig)
		os.Exit(consts.ExFatal)
	}
}
