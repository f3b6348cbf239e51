// Package audio decodes and encodes the PCM WAV files the transcription engine works on.
package audio

import (
	"errors"
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// SampleRate is the rate every waveform is normalized to before transcription.
const SampleRate = 16000

var ErrNotWAV = errors.New("not a valid wav file")

// LoadWAV reads a PCM WAV file and returns mono float32 samples at SampleRate.
func LoadWAV(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: %w", path, ErrNotWAV)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("decode %s: missing format", path)
	}
	bitDepth := int(dec.BitDepth)
	if bitDepth == 0 {
		bitDepth = buf.SourceBitDepth
	}
	mono := downmix(buf.Data, buf.Format.NumChannels, bitDepth)
	return Resample(mono, buf.Format.SampleRate, SampleRate), nil
}

// WriteWAV encodes mono float32 samples as 16-bit PCM.
func WriteWAV(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	data := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(s * 32767)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	if err := enc.Close(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Duration returns the length in seconds of n samples at rate.
func Duration(n, rate int) float64 {
	if rate <= 0 {
		return 0
	}
	return float64(n) / float64(rate)
}

func downmix(data []int, channels, bitDepth int) []float32 {
	if channels < 1 {
		channels = 1
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float32(int64(1) << (bitDepth - 1))
	frames := len(data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(data[i*channels+c]) / scale
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts in from srcSR to dstSR with linear interpolation.
func Resample(in []float32, srcSR, dstSR int) []float32 {
	if srcSR == dstSR || len(in) == 0 || srcSR <= 0 {
		return in
	}
	ratio := float64(dstSR) / float64(srcSR)
	outLen := int(float64(len(in))*ratio + 0.9999)
	out := make([]float32, outLen)
	for i := 0; i < outLen; i++ {
		pos := float64(i) / ratio
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(idx))
		out[i] = in[idx]*(1-frac) + in[idx+1]*frac
	}
	return out
}
