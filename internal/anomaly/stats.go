package anomaly

import (
	"math"
	"sort"
)

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, mu float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - mu
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}

// mad returns the median absolute deviation around med, scaled by 1.4826 so
// it estimates σ under normality.
func mad(xs []float64, med float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	devs := make([]float64, len(xs))
	for i, x := range xs {
		devs[i] = math.Abs(x - med)
	}
	return 1.4826 * median(devs)
}

// firstDigit returns the leading decimal digit of |x|, or 0 when x has none.
func firstDigit(x float64) int {
	x = math.Abs(x)
	if x == 0 || math.IsInf(x, 0) || math.IsNaN(x) {
		return 0
	}
	for x >= 10 {
		x /= 10
	}
	for x < 1 {
		x *= 10
	}
	return int(x)
}

// chiSquareP returns the upper-tail p-value of a chi-square statistic with
// 8 degrees of freedom (nine first digits, one constraint). With integer
// half-dof the survival function has the closed form
// Q(4, h) = e^-h (1 + h + h²/2 + h³/6), h = χ²/2.
func chiSquareP(chi2 float64) float64 {
	h := chi2 / 2
	return math.Exp(-h) * (1 + h + h*h/2 + h*h*h/6)
}

// benfordExpected[d-1] is the theoretical first-digit probability log10(1+1/d).
var benfordExpected = func() [9]float64 {
	var p [9]float64
	for d := 1; d <= 9; d++ {
		p[d-1] = math.Log10(1 + 1/float64(d))
	}
	return p
}()
