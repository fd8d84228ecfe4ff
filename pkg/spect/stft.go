package spect

import (
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// magnitudes returns one magnitude spectrum per full Hann-windowed frame of x,
// fftSize/2+1 bins each. It returns nil when x is shorter than one frame.
func magnitudes(x []float64, fftSize, stepSize int) [][]float64 {
	if len(x) < fftSize {
		return nil
	}
	n := 1 + (len(x)-fftSize)/stepSize

	fft := fourier.NewFFT(fftSize)
	hann := window.Hann(ones(fftSize))
	buf := make([]float64, fftSize)
	coeffs := make([]complex128, fftSize/2+1)

	out := make([][]float64, n)
	for i := range out {
		seg := x[i*stepSize : i*stepSize+fftSize]
		for j, v := range seg {
			buf[j] = v * hann[j]
		}
		coeffs = fft.Coefficients(coeffs, buf)

		out[i] = make([]float64, len(coeffs))
		for j, c := range coeffs {
			out[i][j] = cmplx.Abs(c)
		}
	}
	return out
}

func ones(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}
