// Package audio turns a speech track into the mel-spectrogram windows the
// lip-sync model consumes, one window per output video frame.
//
// Input that is not already 16 kHz mono PCM WAV is transcoded with ffmpeg into
// the run's work directory. The spectrogram is an 80-bin log-mel transform
// (800-point FFT, 200-sample hop) normalized to [-4, 4]; any non-finite value
// fails the run with services.ErrInvalidAudio.
package audio
