package audio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"lipsync/internal/services"
)

const (
	// SampleRate is the only rate the feature extractor accepts.
	SampleRate = 16000
	// NumMels is the number of mel bins per spectrogram frame.
	NumMels = 80
	// WindowFrames is the width of one mel window fed to the model.
	WindowFrames = 16
	// FramesPerSecond is the spectrogram frame rate (SampleRate / hop).
	FramesPerSecond = 80

	noiseHint = "add a small amount of noise to the audio and retry"
)

// Params configures the log-mel spectrogram.
type Params struct {
	SampleRate  int
	NFFT        int
	HopLength   int
	WinLength   int
	NumMels     int
	FMin        float64
	FMax        float64
	Preemphasis float64
	RefLevelDB  float64
	MinLevelDB  float64
	MaxAbsValue float64
}

// DefaultParams returns the parameters the lip-sync model was trained with.
func DefaultParams() Params {
	return Params{
		SampleRate:  SampleRate,
		NFFT:        800,
		HopLength:   200,
		WinLength:   800,
		NumMels:     NumMels,
		FMin:        55,
		FMax:        7600,
		Preemphasis: 0.97,
		RefLevelDB:  20,
		MinLevelDB:  -100,
		MaxAbsValue: 4,
	}
}

// Spectrogram is a Bins x Frames matrix stored bin-major: the value for bin b
// at frame f lives at Data[b*Frames+f].
type Spectrogram struct {
	Bins   int
	Frames int
	Data   []float32
}

// At returns the value of bin b at frame f.
func (s *Spectrogram) At(b, f int) float32 {
	return s.Data[b*s.Frames+f]
}

// Validate reports ErrInvalidAudio when any value is NaN or infinite.
func (s *Spectrogram) Validate() error {
	for i, v := range s.Data {
		if !isFinite(float64(v)) {
			return nonFinite("spectrogram", i/s.Frames, i%s.Frames)
		}
	}
	return nil
}

// MelSpectrogram computes the normalized log-mel spectrogram of mono samples.
// Output values lie in [-MaxAbsValue, MaxAbsValue].
func MelSpectrogram(samples []float32, p Params) (*Spectrogram, error) {
	if len(samples) == 0 {
		return nil, services.Wrap(services.ErrInvalidAudio, "audio", "mel spectrogram", "no samples", nil)
	}
	emphasized := preemphasize(samples, p.Preemphasis)
	magnitudes := stftMagnitudes(emphasized, p)
	frames := len(magnitudes)
	basis := melFilterBank(p)

	spec := &Spectrogram{Bins: p.NumMels, Frames: frames, Data: make([]float32, p.NumMels*frames)}
	for f, mag := range magnitudes {
		for b, weights := range basis {
			var energy float64
			for k, w := range weights {
				if w != 0 {
					energy += w * mag[k]
				}
			}
			if !isFinite(energy) {
				return nil, nonFinite("mel energy", b, f)
			}
			spec.Data[b*frames+f] = float32(normalizeDB(ampToDB(energy)-p.RefLevelDB, p))
		}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

func nonFinite(what string, bin, frame int) error {
	return services.Wrap(services.ErrInvalidAudio, "audio", "mel spectrogram",
		fmt.Sprintf("non-finite %s at bin %d frame %d; %s", what, bin, frame, noiseHint), nil)
}

// preemphasize applies y[n] = x[n] - k*x[n-1].
func preemphasize(x []float32, k float64) []float64 {
	y := make([]float64, len(x))
	prev := 0.0
	for i, v := range x {
		cur := float64(v)
		y[i] = cur - k*prev
		prev = cur
	}
	return y
}

// stftMagnitudes runs a centered STFT with reflect padding and a periodic
// Hann window, returning |X| per frame for bins 0..NFFT/2.
func stftMagnitudes(x []float64, p Params) [][]float64 {
	pad := p.NFFT / 2
	frames := 1 + len(x)/p.HopLength
	window := hannWindow(p.WinLength, p.NFFT)
	fft := fourier.NewFFT(p.NFFT)

	buf := make([]float64, p.NFFT)
	coeffs := make([]complex128, p.NFFT/2+1)
	out := make([][]float64, frames)
	for f := range frames {
		start := f*p.HopLength - pad
		for k := range buf {
			buf[k] = x[reflectIndex(start+k, len(x))] * window[k]
		}
		coeffs = fft.Coefficients(coeffs, buf)
		mag := make([]float64, len(coeffs))
		for k, c := range coeffs {
			mag[k] = math.Hypot(real(c), imag(c))
		}
		out[f] = mag
	}
	return out
}

// reflectIndex maps i onto [0, n) by mirroring about the end samples without
// repeating them.
func reflectIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	period := 2 * (n - 1)
	i %= period
	if i < 0 {
		i += period
	}
	if i >= n {
		i = period - i
	}
	return i
}

// hannWindow returns a periodic Hann window of length winLength centered in
// an nfft-long frame.
func hannWindow(winLength, nfft int) []float64 {
	w := make([]float64, nfft)
	offset := (nfft - winLength) / 2
	for i := range winLength {
		w[offset+i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(winLength))
	}
	return w
}

// melFilterBank builds NumMels triangular filters on the Slaney mel scale with
// Slaney area normalization.
func melFilterBank(p Params) [][]float64 {
	bins := p.NFFT/2 + 1
	fftFreqs := make([]float64, bins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(p.SampleRate) / float64(p.NFFT)
	}

	lo, hi := hzToMel(p.FMin), hzToMel(p.FMax)
	points := make([]float64, p.NumMels+2)
	for i := range points {
		points[i] = melToHz(lo + (hi-lo)*float64(i)/float64(p.NumMels+1))
	}

	basis := make([][]float64, p.NumMels)
	for m := range basis {
		left, center, right := points[m], points[m+1], points[m+2]
		enorm := 2 / (right - left)
		weights := make([]float64, bins)
		for k, f := range fftFreqs {
			lower := (f - left) / (center - left)
			upper := (right - f) / (right - center)
			weights[k] = math.Max(0, math.Min(lower, upper)) * enorm
		}
		basis[m] = weights
	}
	return basis
}

const (
	melLinearStep = 200.0 / 3
	melLogMinHz   = 1000.0
	melLogMin     = melLogMinHz / melLinearStep
)

var melLogStep = math.Log(6.4) / 27

func hzToMel(hz float64) float64 {
	if hz < melLogMinHz {
		return hz / melLinearStep
	}
	return melLogMin + math.Log(hz/melLogMinHz)/melLogStep
}

func melToHz(mel float64) float64 {
	if mel < melLogMin {
		return mel * melLinearStep
	}
	return melLogMinHz * math.Exp(melLogStep*(mel-melLogMin))
}

func ampToDB(x float64) float64 {
	return 20 * math.Log10(math.Max(1e-5, x))
}

// normalizeDB maps [MinLevelDB, 0] dB symmetrically onto
// [-MaxAbsValue, MaxAbsValue] and clips.
func normalizeDB(db float64, p Params) float64 {
	v := 2*p.MaxAbsValue*((db-p.MinLevelDB)/-p.MinLevelDB) - p.MaxAbsValue
	return math.Max(-p.MaxAbsValue, math.Min(p.MaxAbsValue, v))
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
