package discrete

import (
	"fmt"

	"github.com/gonum/matrix/mat64"
)

// stationary solves sᵀ·Q = 0 with Σ s = 1.
func stationary(q []float64, n int) ([]float64, error) {
	a := mat64.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a.Set(i, j, q[j*n+i])
		}
	}
	for j := 0; j < n; j++ {
		a.Set(n-1, j, 1)
	}
	b := mat64.NewDense(n, 1, nil)
	b.Set(n-1, 0, 1)

	var s mat64.Dense
	if err := s.Solve(a, b); err != nil {
		return nil, err
	}
	return mat64.Col(nil, 0, &s), nil
}

// correctDifferentials subtracts the part of the cross products
// lying in the zero eigenvalue subspace of the generator. QQ⁺ is
// I - 1·sᵀ, where 1 and s are the right and the left eigenvectors
// of the zero eigenvalue.
func (k *Kernel) correctDifferentials(d, q []float64) error {
	n := k.stateCount
	s, err := stationary(q, n)
	if err != nil {
		return fmt.Errorf("cannot find the zero eigenvalue of %s: %v", k.model.Name(), err)
	}
	qqPlus := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			qqPlus[i*n+j] = -s[j]
			if i == j {
				qqPlus[i*n+j]++
			}
		}
	}

	correction := make([]float64, n*n)
	for m := 0; m < n; m++ {
		for l := 0; l < n; l++ {
			entry := 0.0
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					f := -qqPlus[i*n+m]
					if i == j {
						f++
					}
					entry += d[i*n+j] * f * qqPlus[l*n+j]
				}
			}
			correction[m*n+l] = entry
		}
	}
	log.Debugf("diff: %v", d)
	log.Debugf("corr: %v", correction)
	for i := range d {
		d[i] -= correction[i]
	}
	return nil
}
