package main

// RunSummary is storing subgrad run summary information.
type RunSummary struct {
	// Version stores subgrad version.
	Version string `json:"version"`
	// CommandLine is an array storing binary name and all command-line parameters.
	CommandLine []string `json:"commandLine"`
	// Run is the run id used for the database records.
	Run string `json:"run"`
	// NThreads is the number of workers per joint gradient.
	NThreads int `json:"nThreads"`
	// LnL is the log likelihood summed over the partitions.
	LnL float64 `json:"lnL"`
	// MaxLnL is the maximum of the joint gradient likelihoods, only
	// computed with -optimize.
	MaxLnL float64 `json:"maxLnL,omitempty"`
	// Gradients are the joint gradients.
	Gradients []GradientSummary `json:"gradients"`
	// Time is the computations time in seconds.
	Time float64 `json:"time"`
}

// GradientSummary is a single joint gradient.
type GradientSummary struct {
	Parameter string    `json:"parameter"`
	Values    []float64 `json:"values"`
	Gradient  []float64 `json:"gradient"`
	// Providers is the number of joined gradient providers.
	Providers int `json:"providers"`
	// Numeric and MaxDiff are only computed with -check.
	Numeric []float64 `json:"numeric,omitempty"`
	MaxDiff float64   `json:"maxDiff,omitempty"`
	// Report is only created with -report.
	Report string `json:"report,omitempty"`
}
