package audio

import (
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Waveform is a decoded mono signal in [-1, 1].
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the signal length in seconds.
func (w Waveform) Duration() float64 {
	if w.SampleRate <= 0 {
		return 0
	}
	return float64(len(w.Samples)) / float64(w.SampleRate)
}

// IsNativeWAV reports whether path is already 16 kHz mono 16-bit PCM WAV and
// can be decoded without transcoding.
func IsNativeWAV(path string) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return false, nil
	}
	return decoder.SampleRate == SampleRate &&
		decoder.NumChans == 1 &&
		decoder.BitDepth == 16 &&
		decoder.WavAudioFormat == 1, nil
}

// LoadWAV decodes a mono PCM WAV file into a Waveform.
func LoadWAV(path string) (Waveform, error) {
	file, err := os.Open(path)
	if err != nil {
		return Waveform{}, fmt.Errorf("open audio: %w", err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return Waveform{}, errors.New("not a valid wav file")
	}
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return Waveform{}, fmt.Errorf("read pcm: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels != 1 {
		return Waveform{}, fmt.Errorf("expected mono audio, got %d channels", channelCount(buf))
	}

	depth := buf.SourceBitDepth
	if depth <= 0 {
		depth = 16
	}
	scale := float32(int64(1) << uint(depth-1))
	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / scale
	}
	return Waveform{Samples: samples, SampleRate: buf.Format.SampleRate}, nil
}

// WriteWAV encodes samples as 16-bit mono PCM. Values are clipped to [-1, 1].
func WriteWAV(path string, w Waveform) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}
	encoder := wav.NewEncoder(file, w.SampleRate, 16, 1, 1)

	data := make([]int, len(w.Samples))
	for i, s := range w.Samples {
		s = max(-1, min(1, s))
		data[i] = int(s * 32767)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: w.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := encoder.Write(buf); err != nil {
		file.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	if err := encoder.Close(); err != nil {
		file.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return file.Close()
}

func channelCount(buf *goaudio.IntBuffer) int {
	if buf.Format == nil {
		return 0
	}
	return buf.Format.NumChannels
}
