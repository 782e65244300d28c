/*

Subgrad computes gradients of tree likelihoods with respect to the
parameters of substitution models (random effects, fixed effects and
rates), joining gradients of all the partitions and priors sharing a
parameter.

The basic usage of subgrad looks like this:

	subgrad analysis.yaml

, this will print the gradient of every model parameter. The
analysis file lists alignments, trees, models and priors:

	tree: tree.nwk
	partitions:
	  - alignment: first.fst
	    model: hky
	  - alignment: second.fst
	    classes: {0: hky, 1: fg}
	models:
	  - name: hky
	    type: glm
	    normalize: true
	    frequencies: empirical
	    randomEffects: [0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0]
	  - name: fg
	    type: complex
	priors:
	  - name: rePrior
	    type: normal
	    parameter: hky.re
	    sd: 1

To compare the gradients with finite differences and plot them run:

	subgrad -check -plot check.png analysis.yaml

To see all the options run:

	subgrad -h

*/
package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/op/go-logging"
	bolt "go.etcd.io/bbolt"
	"gopkg.in/alecthomas/kingpin.v2"

	"bitbucket.org/Davydov/subgrad/checkpoint"
	"bitbucket.org/Davydov/subgrad/hmc"
)

// These three variables are set during the compilation.
var githash = ""
var gitbranch = ""
var buildstamp = ""
var version = fmt.Sprintf("branch: %s, revision: %s, build time: %s", gitbranch, githash, buildstamp)

// Logger settings.
var log = logging.MustGetLogger("subgrad")
var formatter = logging.MustStringFormatter(`%{message}`)

// command-line options
var (
	// application
	app = kingpin.New("subgrad", "substitution model gradients").Version(version)

	analysisFileName = app.Arg("analysis", "analysis in YAML format").Required().ExistingFile()

	// gradient
	affine    = app.Flag("affine", "apply the affine correction to the cross products").Bool()
	check     = app.Flag("check", "compare gradients with finite differences").Bool()
	report    = app.Flag("report", "print kernel and joint gradient reports").Bool()
	countOps  = app.Flag("count", "count kernel evaluations and time").Bool()
	debugCP   = app.Flag("debugcp", "keep cross products for the reports").Bool()
	tolerance = app.Flag("tol", "gradient check tolerance").Default("0.01").Float64()
	optimize  = app.Flag("optimize", "maximize the likelihood over the gradient parameters (L-BFGS-B) before reporting").Bool()

	// technical
	nThreads = app.Flag("nt", "number of threads per joint gradient (0 for all CPUs, 1 for sequential)").Int()

	// input/output
	outLogF  = app.Flag("log", "write log to a file").String()
	dbF      = app.Flag("db", "store gradient records in a bolt database").String()
	runID    = app.Flag("run", "run id for the database records, random by default").String()
	plotF    = app.Flag("plot", "plot analytic vs numeric gradients (implies -check)").String()
	jsonF    = app.Flag("json", "write json output to a file").String()
	logLevel = app.Flag("loglevel", "set loglevel "+
		"('critical', 'error', 'warning', 'notice', 'info', 'debug')").
		Default("notice").
		Enum("critical", "error", "warning", "notice", "info", "debug")
)

// evaluate computes all the joint gradients.
func evaluate(s *setup, gs *gradientSettings, numeric bool) (summaries []GradientSummary, err error) {
	for _, j := range s.gradients {
		par := j.Parameter()
		gsum := GradientSummary{
			Parameter: par.Name(),
			Values:    par.Values(),
			Providers: len(j.Providers()),
		}
		if numeric {
			c, err := hmc.CheckGradient(j, math.Inf(-1), math.Inf(1), gs.tolerance)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", par.Name(), err)
			}
			gsum.Gradient = c.Analytic
			gsum.Numeric = c.Numeric
			gsum.MaxDiff = c.MaxDiff
			if !c.OK() {
				log.Warningf("%s: gradient differs from numeric (%g)", par.Name(), c.MaxDiff)
			}
		} else {
			gsum.Gradient, err = j.GradientLogDensity()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", par.Name(), err)
			}
		}
		if gs.report {
			gsum.Report = j.Report()
		}
		summaries = append(summaries, gsum)
	}
	return summaries, nil
}

func run(s *setup, gs *gradientSettings, rio *checkpoint.RecordIO) (*RunSummary, error) {
	startTime := time.Now()
	summary := &RunSummary{
		Run:      rio.Run(),
		NThreads: gs.nThreads,
		LnL:      s.LogLikelihood(),
	}
	log.Noticef("lnL=%0.6f", summary.LnL)

	if *optimize {
		summary.MaxLnL = newMaximizer(s.gradients).Run()
	}

	gradients, err := evaluate(s, gs, *check || *plotF != "")
	if err != nil {
		return nil, err
	}
	summary.Gradients = gradients

	for _, g := range gradients {
		log.Noticef("%s=%v", g.Parameter, g.Values)
		log.Noticef("d lnL/d %s=%v", g.Parameter, g.Gradient)
		if g.Numeric != nil {
			log.Noticef("numeric=%v (max diff %g)", g.Numeric, g.MaxDiff)
		}
		if g.Report != "" {
			log.Notice(g.Report)
		}
		err := rio.Save(&checkpoint.Record{
			Parameter: g.Parameter,
			Values:    g.Values,
			Gradient:  g.Gradient,
			Numeric:   g.Numeric,
			Report:    g.Report,
		})
		if err != nil {
			return nil, err
		}
	}
	if gs.report {
		for _, k := range s.kernels {
			log.Notice(k.Report())
		}
	}

	summary.Time = time.Since(startTime).Seconds()
	log.Infof("Running time: %v", time.Since(startTime))
	return summary, nil
}

// writeJSON writes the summary to a file.
func writeJSON(fileName string, summary *RunSummary) error {
	j, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	log.Debug(string(j))
	f, err := os.Create(fileName)
	if err != nil {
		return fmt.Errorf("error creating json output file: %w", err)
	}
	if _, err := f.Write(j); err != nil {
		f.Close()
		return fmt.Errorf("error writing json output file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("error closing json output file: %w", err)
	}
	return nil
}

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))

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
	for _, module := range []string{"subgrad", "discrete", "hmc", "treelh", "substmodel",
		"branchmodel", "prior", "checkpoint"} {
		logging.SetLevel(level, module)
	}

	// print revision
	log.Info(version)

	// print commandline
	log.Info("Command line:", os.Args)

	gs := newGradientSettings()
	log.Infof("Using threads: %d.", gs.nThreads)

	analysis, err := LoadAnalysis(*analysisFileName)
	if err != nil {
		log.Fatal(err)
	}
	s, err := analysis.Build(gs)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	var db *bolt.DB
	if *dbF != "" {
		db, err = bolt.Open(*dbF, 0600, nil)
		if err != nil {
			log.Fatal("Error opening database:", err)
		}
		defer db.Close()
	}
	rio := checkpoint.NewRecordIO(db, *runID)
	if db != nil {
		log.Infof("Run id: %s", rio.Run())
	}

	summary, err := run(s, gs, rio)
	if err != nil {
		log.Error(err)
		return
	}
	summary.Version = version
	summary.CommandLine = os.Args

	if *plotF != "" {
		if err := plotGradients(*plotF, summary.Gradients); err != nil {
			log.Error("Error plotting gradients:", err)
		}
	}

	// output summary in json format
	if *jsonF != "" {
		if err := writeJSON(*jsonF, summary); err != nil {
			log.Error(err)
		}
	}
}
