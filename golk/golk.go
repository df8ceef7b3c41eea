/*

Golk computes and optimizes likelihoods of nucleotide and protein
alignments under the GTR model with gamma rate variation and
invariant sites.

The basic usage of golk looks like this:

	golk lnl alignment.fst tree.nwk

, this will print the log-likelihood of the tree. Branch lengths and
model parameters are optimized with:

	golk optimize --ncat 4 --param alpha --param branches alignment.fst tree.nwk

The log-likelihood profile of a single branch is plotted with:

	golk profile --node 3 --out profile.png alignment.fst tree.nwk

To see all the options run:

	golk --help

*/
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/op/go-logging"
	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/Davydov/golk/bio"
	"bitbucket.org/Davydov/golk/checkpoint"
	"bitbucket.org/Davydov/golk/optimize"
	"bitbucket.org/Davydov/golk/plh"
	"bitbucket.org/Davydov/golk/profile"
	"bitbucket.org/Davydov/golk/tlh"
	"bitbucket.org/Davydov/golk/tree"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("golk")
var formatter = logging.MustStringFormatter(`%{message}`)

// modules configured by --loglevel
var modules = []string{"golk", "tlh", "optimize", "plh", "checkpoint"}

// command-line options
var (
	// application
	app = kingpin.New("golk", "phylogenetic likelihood calculator and optimizer").Version(version)

	// model parameters
	ncat     = app.Flag("ncat", "number of discrete gamma rate categories").Default("1").Int()
	alpha    = app.Flag("alpha", "gamma shape parameter").Default("1").Float64()
	pinv     = app.Flag("pinv", "proportion of invariant sites").Default("0").Float64()
	freqs    = app.Flag("freqs", "equilibrium frequencies: empirical, equal or a list of numbers").Default("empirical").String()
	subst    = app.Flag("subst", "GTR exchangeabilities (upper triangle, row order), equal by default").String()
	alphabet = app.Flag("alphabet", "sequence alphabet").Default("nt").Enum("nt", "aa")

	// technical
	arch     = app.Flag("arch", "kernel implementation").Default("avx").Enum("cpu", "sse", "avx")
	outLogF  = app.Flag("log", "write log to a file").String()
	logLevel = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
	jsonF = app.Flag("json", "write json output to a file").String()

	// lnl command
	lnlCmd       = app.Command("lnl", "compute log-likelihood")
	lnlAlignment = lnlCmd.Arg("alignment", "sequence alignment").Required().ExistingFile()
	lnlTree      = lnlCmd.Arg("tree", "phylogenetic tree").Required().ExistingFile()

	// optimize command
	optCmd       = app.Command("optimize", "optimize branch lengths and model parameters")
	optAlignment = optCmd.Arg("alignment", "sequence alignment").Required().ExistingFile()
	optTree      = optCmd.Arg("tree", "starting phylogenetic tree").Required().ExistingFile()
	optParams    = optCmd.Flag("param", "parameters to optimize "+
		"(subst: exchangeabilities, alpha, pinv, freqs, "+
		"branches: all branches jointly, iterative: branches one by one with Newton-Raphson)").
		Default("branches").Enums("subst", "alpha", "pinv", "freqs", "branches", "iterative")
	iterations     = optCmd.Flag("iter", "maximum number of L-BFGS-B iterations").Default("10000").Int()
	report         = optCmd.Flag("report", "report every N iterations").Default("10").Int()
	outF           = optCmd.Flag("out", "write optimization trajectory to a file").String()
	outTreeF       = optCmd.Flag("outtree", "write tree to a file").String()
	checkpointF    = optCmd.Flag("checkpoint", "checkpoint database file").String()
	checkpointKey  = optCmd.Flag("checkpoint-key", "checkpoint key").Default("golk").String()
	checkpointTime = optCmd.Flag("checkpoint-seconds", "save checkpoint every N seconds").Default("60").Float64()

	// profile command
	profCmd       = app.Command("profile", "log-likelihood profile of a branch length")
	profAlignment = profCmd.Arg("alignment", "sequence alignment").Required().ExistingFile()
	profTree      = profCmd.Arg("tree", "phylogenetic tree").Required().ExistingFile()
	profNode      = profCmd.Flag("node", "node id; the branch above the node is profiled").Required().Int()
	profMin       = profCmd.Flag("min", "smallest branch length").Default("1e-4").Float64()
	profMax       = profCmd.Flag("max", "largest branch length").Default("10").Float64()
	profPoints    = profCmd.Flag("points", "number of points").Default("100").Int()
	profOut       = profCmd.Flag("out", "write plot to a file (png, svg or pdf)").String()
)

// RunSummary is written as json with --json.
type RunSummary struct {
	Version      string
	CommandLine  []string
	Command      string
	Kernel       string
	StartingTree string
	FinalTree    string            `json:",omitempty"`
	LnL          float64           `json:",omitempty"`
	Alpha        float64           `json:",omitempty"`
	Pinv         float64           `json:",omitempty"`
	Optimizer    *optimize.Summary `json:",omitempty"`
	Profile      *profile.Profile  `json:",omitempty"`
	Frequencies  []float64         `json:",omitempty"`
	Time         float64
}

// attributes returns partition attributes from --arch.
func attributes(arch string) plh.Attrib {
	switch arch {
	case "sse":
		return plh.AttribArchSSE
	case "avx":
		return plh.AttribArchAVX
	}
	return plh.AttribArchCPU
}

// readFreqs parses --freqs; nil means empirical frequencies.
func readFreqs(s string, states int) ([]float64, error) {
	switch s {
	case "empirical":
		return nil, nil
	case "equal":
		f := make([]float64, states)
		for i := range f {
			f[i] = 1 / float64(states)
		}
		return f, nil
	}
	f, err := optimize.ReadFloats(s)
	if err != nil {
		return nil, err
	}
	if len(f) != states {
		return nil, fmt.Errorf("expected %d frequencies, got %d", states, len(f))
	}
	return f, nil
}

// which returns the optimization mask from --param values.
func which(params []string) (w optimize.Which) {
	for _, p := range params {
		switch p {
		case "subst":
			w |= optimize.SubstRates
		case "alpha":
			w |= optimize.Alpha
		case "pinv":
			w |= optimize.Pinv
		case "freqs":
			w |= optimize.Frequencies
		case "branches":
			w |= optimize.BranchesAll
		case "iterative":
			w |= optimize.BranchesIterative
		}
	}
	return
}

// load reads the alignment and the tree and creates a tree
// likelihood.
func load(alignmentFileName, treeFileName string, summary *RunSummary) (*tlh.TreeLikelihood, error) {
	fastaFile, err := os.Open(alignmentFileName)
	if err != nil {
		return nil, err
	}
	defer fastaFile.Close()

	ali, err := bio.ParseFasta(fastaFile)
	if err != nil {
		return nil, err
	}
	l, err := ali.Length()
	if err != nil {
		return nil, err
	}
	if l == 0 {
		return nil, fmt.Errorf("zero length alignment")
	}
	log.Infof("Read alignment of %d sequences, %d sites", len(ali), l)

	treeFile, err := os.Open(treeFileName)
	if err != nil {
		return nil, err
	}
	defer treeFile.Close()

	t, err := tree.ParseNewick(treeFile)
	if err != nil {
		return nil, err
	}
	log.Debugf("intree=%s", t)
	summary.StartingTree = t.String()

	cfg := tlh.Config{
		Map:        &plh.NTMap,
		States:     4,
		RateCats:   *ncat,
		Alpha:      *alpha,
		Pinv:       *pinv,
		Attributes: attributes(*arch),
	}
	if *alphabet == "aa" {
		cfg.Map = &plh.AAMap
		cfg.States = 20
	}
	cfg.Freqs, err = readFreqs(*freqs, cfg.States)
	if err != nil {
		return nil, err
	}
	if *subst != "" {
		cfg.SubstParams, err = optimize.ReadFloats(*subst)
		if err != nil {
			return nil, err
		}
	}

	tl, err := tlh.New(t, ali, cfg)
	if err != nil {
		return nil, err
	}
	p := tl.Partition()
	summary.Kernel = p.Kernel()
	summary.Frequencies = p.Frequencies(0)
	log.Infof("Using %s kernels", p.Kernel())
	log.Infof("intree_unroot=%s", tl.UnrootedTree())
	log.Debugf("brtree_unroot=%s", tl.UnrootedTree().StringBr())
	log.Debugf("nodes:\n%s", tl.UnrootedTree().FullString())
	return tl, nil
}

func lnl(summary *RunSummary) error {
	tl, err := load(*lnlAlignment, *lnlTree, summary)
	if err != nil {
		return err
	}
	lnL, err := tl.LogLikelihood()
	if err != nil {
		return err
	}
	summary.LnL = lnL
	fmt.Printf("lnL=%f\n", lnL)
	return nil
}

func optimizeTree(summary *RunSummary) error {
	tl, err := load(*optAlignment, *optTree, summary)
	if err != nil {
		return err
	}
	start, err := tl.LogLikelihood()
	if err != nil {
		return err
	}
	log.Noticef("Starting lnL=%f", start)

	opts := &optimize.Options{
		Which:        which(*optParams),
		Iterations:   *iterations,
		ReportPeriod: *report,
		Signals:      []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
	if *outF != "" {
		f, err := os.Create(*outF)
		if err != nil {
			return fmt.Errorf("creating trajectory file: %w", err)
		}
		defer f.Close()
		opts.Output = f
	}
	if *checkpointF != "" {
		db, err := checkpoint.Open(*checkpointF)
		if err != nil {
			return fmt.Errorf("opening checkpoint database: %w", err)
		}
		defer db.Close()
		opts.Checkpoint = checkpoint.NewIO(db, []byte(*checkpointKey), *checkpointTime)
	}

	lnL, err := tl.OptimizeModel(opts)
	if opts.Summary.Optimizer != "" {
		summary.Optimizer = &opts.Summary
	}
	if errors.Is(err, optimize.ErrInterrupted) {
		log.Warning("Optimization was interrupted")
	} else if err != nil {
		return err
	}
	summary.LnL = lnL
	summary.Alpha = tl.Alpha()
	summary.Pinv = tl.Partition().PropInvar(0)

	t, err := tl.Tree()
	if err != nil {
		return fmt.Errorf("rooting tree: %w", err)
	}
	summary.FinalTree = t.String()
	log.Infof("outtree=%s", t)
	if *outTreeF != "" {
		if err := os.WriteFile(*outTreeF, []byte(t.String()+"\n"), 0666); err != nil {
			return fmt.Errorf("writing tree: %w", err)
		}
	}
	fmt.Printf("lnL=%f\n", lnL)
	if *ncat > 1 {
		fmt.Printf("alpha=%f\n", summary.Alpha)
	}
	fmt.Printf("pinv=%f\n", summary.Pinv)
	return nil
}

func profileBranch(summary *RunSummary) error {
	tl, err := load(*profAlignment, *profTree, summary)
	if err != nil {
		return err
	}
	ts, err := profile.Grid(*profMin, *profMax, *profPoints)
	if err != nil {
		return err
	}
	lnL, d1, d2, err := tl.Profile(*profNode, ts)
	if err != nil {
		return err
	}
	pr := &profile.Profile{Node: *profNode, T: ts, LnL: lnL, D1: d1, D2: d2}
	summary.Profile = pr
	t, l := pr.Max()
	log.Noticef("Maximum lnL=%f at t=%g", l, t)
	if *profOut != "" {
		if err := pr.Save(*profOut); err != nil {
			return fmt.Errorf("saving plot: %w", err)
		}
		return nil
	}
	return pr.Write(os.Stdout)
}

func main() {
	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	// logging
	logging.SetFormatter(formatter)

	var backend *logging.LogBackend
	if *outLogF != "" {
		f, err := os.OpenFile(*outLogF, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			log.Fatal("Error creating log file:", err)
		}
		defer f.Close()
		backend = logging.NewLogBackend(f, "", 0)
	} else {
		backend = logging.NewLogBackend(os.Stderr, "", 0)
	}
	logging.SetBackend(backend)

	level, err := logging.LogLevel(*logLevel)
	if err != nil {
		log.Fatal(err)
	}
	for _, module := range modules {
		logging.SetLevel(level, module)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	startTime := time.Now()
	summary := &RunSummary{
		Version:     version,
		CommandLine: os.Args,
		Command:     cmd,
	}

	switch cmd {
	case lnlCmd.FullCommand():
		err = lnl(summary)
	case optCmd.FullCommand():
		err = optimizeTree(summary)
	case profCmd.FullCommand():
		err = profileBranch(summary)
	}
	if err != nil {
		log.Fatal(err)
	}

	deltaT := time.Since(startTime)
	log.Noticef("Running time: %v", deltaT)
	summary.Time = deltaT.Seconds()

	// output summary in json format
	if *jsonF != "" {
		j, err := json.Marshal(summary)
		if err != nil {
			log.Error(err)
		} else {
			log.Debug(string(j))
			f, err := os.Create(*jsonF)
			if err != nil {
				log.Error("Error creating json output file:", err)
			} else {
				f.Write(j)
				f.Close()
			}
		}
	}
}
