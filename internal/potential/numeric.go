package potential

import (
	"errors"

	"gonum.org/v1/gonum/mat"
)

// NumericalGradient estimates the gradient of p at x by central differences
func NumericalGradient(p Potential, x []float64, eps float64) []float64 {
	grad := make([]float64, len(x))
	xx := append([]float64(nil), x...)
	for i := range xx {
		orig := xx[i]
		xx[i] = orig + eps
		ep := p.Energy(xx)
		xx[i] = orig - eps
		em := p.Energy(xx)
		xx[i] = orig
		grad[i] = (ep - em) / (2 * eps)
	}
	return grad
}

// NumericalHessian estimates the Hessian of p at x from central differences of the
// analytic gradient. The result is symmetrized.
func NumericalHessian(p Potential, x []float64, eps float64) *mat.SymDense {
	n := len(x)
	cols := make([][]float64, n)
	xx := append([]float64(nil), x...)
	for i := 0; i < n; i++ {
		orig := xx[i]
		xx[i] = orig + eps
		_, gp := p.EnergyGradient(xx)
		xx[i] = orig - eps
		_, gm := p.EnergyGradient(xx)
		xx[i] = orig
		col := make([]float64, n)
		for j := range col {
			col[j] = (gp[j] - gm[j]) / (2 * eps)
		}
		cols[i] = col
	}
	h := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			h.SetSym(i, j, 0.5*(cols[i][j]+cols[j][i]))
		}
	}
	return h
}

// ErrEigenFailed is returned when the symmetric eigen-decomposition does not converge.
var ErrEigenFailed = errors.New("eigen-decomposition failed")

// Eigen returns the eigenvalues of h in ascending order and the matching
// eigenvectors as columns.
func Eigen(h *mat.SymDense) ([]float64, *mat.Dense, error) {
	var es mat.EigenSym
	if ok := es.Factorize(h, true); !ok {
		return nil, nil, ErrEigenFailed
	}
	vals := es.Values(nil)
	var vecs mat.Dense
	es.VectorsTo(&vecs)
	return vals, &vecs, nil
}

// LowestEigen returns the lowest eigenvalue of h whose magnitude exceeds zeroTol and
// its unit eigenvector. Modes with |eigenvalue| <= zeroTol (translations, rotations)
// are skipped.
func LowestEigen(h *mat.SymDense, zeroTol float64) (float64, []float64, error) {
	vals, vecs, err := Eigen(h)
	if err != nil {
		return 0, nil, err
	}
	for i, v := range vals {
		if v > -zeroTol && v < zeroTol {
			continue
		}
		return v, mat.Col(nil, i, vecs), nil
	}
	return 0, nil, ErrEigenFailed
}
