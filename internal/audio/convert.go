package audio

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// FFmpeg is the binary used to normalize non-WAV input.
var FFmpeg = "ffmpeg"

// convert writes a 16 kHz mono 16-bit PCM WAV of in to out.
var convert = func(in, out string) error {
	cmd := exec.Command(FFmpeg,
		"-nostdin", "-loglevel", "error",
		"-i", in,
		"-ar", strconv.Itoa(SampleRate),
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"-y",
		out,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Load returns mono float32 samples at SampleRate for any input format.
// WAV files are decoded directly; anything else goes through ffmpeg into a
// temporary WAV that is removed before returning.
func Load(path string) ([]float32, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return LoadWAV(path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp("", "callsense-normalized-*.wav")
	if err != nil {
		return nil, err
	}
	out := tmp.Name()
	_ = tmp.Close()
	defer os.Remove(out)

	if err := convert(path, out); err != nil {
		return nil, fmt.Errorf("normalize %s: %w", path, err)
	}
	return LoadWAV(out)
}
