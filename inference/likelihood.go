package inference

import (
	"strings"
)

// Likelihood is a scalar function over parameters.
type Likelihood interface {
	// ID returns the likelihood name.
	ID() string
	// LogLikelihood computes the log-likelihood for the current
	// parameter values.
	LogLikelihood() float64
	// LikelihoodSet returns all the primitive likelihoods this
	// likelihood is composed of. A primitive likelihood returns
	// itself.
	LikelihoodSet() []Likelihood
	// MakeDirty forces the recomputation of any cached state.
	MakeDirty()
}

// CompoundLikelihood is a sum of log-likelihoods.
type CompoundLikelihood struct {
	id          string
	likelihoods []Likelihood
}

// NewCompoundLikelihood creates a new compound likelihood.
func NewCompoundLikelihood(likelihoods []Likelihood) *CompoundLikelihood {
	ids := make([]string, len(likelihoods))
	for i, l := range likelihoods {
		ids[i] = l.ID()
	}
	return &CompoundLikelihood{
		id:          "compound(" + strings.Join(ids, ",") + ")",
		likelihoods: likelihoods,
	}
}

// ID returns the likelihood name.
func (c *CompoundLikelihood) ID() string {
	return c.id
}

// Likelihoods returns the direct members.
func (c *CompoundLikelihood) Likelihoods() []Likelihood {
	return c.likelihoods
}

// LogLikelihood is the sum of the member log-likelihoods.
func (c *CompoundLikelihood) LogLikelihood() (lnL float64) {
	for _, l := range c.likelihoods {
		lnL += l.LogLikelihood()
	}
	return
}

// LikelihoodSet returns the flattened, deduplicated set of members.
func (c *CompoundLikelihood) LikelihoodSet() []Likelihood {
	var set []Likelihood
	for _, l := range c.likelihoods {
		for _, sub := range l.LikelihoodSet() {
			set = AppendUnique(set, sub)
		}
	}
	return set
}

// MakeDirty propagates to all the members.
func (c *CompoundLikelihood) MakeDirty() {
	for _, l := range c.likelihoods {
		l.MakeDirty()
	}
}

// ReciprocalLikelihood negates the log-likelihood of another
// likelihood. It is treated as one unit and never flattened.
type ReciprocalLikelihood struct {
	Likelihood
}

// NewReciprocalLikelihood wraps a likelihood.
func NewReciprocalLikelihood(l Likelihood) *ReciprocalLikelihood {
	return &ReciprocalLikelihood{Likelihood: l}
}

// ID returns the likelihood name.
func (r *ReciprocalLikelihood) ID() string {
	return "reciprocal(" + r.Likelihood.ID() + ")"
}

// LogLikelihood returns the negated log-likelihood.
func (r *ReciprocalLikelihood) LogLikelihood() float64 {
	return -r.Likelihood.LogLikelihood()
}

// LikelihoodSet returns the reciprocal likelihood itself.
func (r *ReciprocalLikelihood) LikelihoodSet() []Likelihood {
	return []Likelihood{r}
}

// AppendUnique appends a likelihood unless the same object is
// already present.
func AppendUnique(set []Likelihood, l Likelihood) []Likelihood {
	for _, s := range set {
		if s == l {
			return set
		}
	}
	return append(set, l)
}
