package spect

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// AudioFormats maps the audio_format config option to a file extension.
var AudioFormats = map[string]string{
	"wav": ".wav",
	"mp3": ".mp3",
}

// LoadAudioMono loads a .wav or .mp3 file as mono samples in [-1, 1] and
// returns them with the sample rate.
func LoadAudioMono(path string) ([]float32, int, error) {
	var (
		buf *audio.IntBuffer
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		buf, err = decodeMP3(path)
	case ".wav":
		buf, err = decodeWAV(path)
	default:
		return nil, 0, fmt.Errorf("unsupported audio format: %s", ext)
	}
	if err != nil {
		return nil, 0, err
	}
	return downmix(buf), buf.Format.SampleRate, nil
}

// downmix averages interleaved channels and scales by the source bit depth.
func downmix(buf *audio.IntBuffer) []float32 {
	channels := max(buf.Format.NumChannels, 1)
	scale := float32(int64(1) << (buf.SourceBitDepth - 1))

	out := make([]float32, len(buf.Data)/channels)
	for i := range out {
		var sum float32
		for _, v := range buf.Data[i*channels : (i+1)*channels] {
			sum += float32(v)
		}
		out[i] = sum / float32(channels) / scale
	}
	return out
}

func decodeWAV(path string) (*audio.IntBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("invalid WAV file: %s", path)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode WAV %s: %w", path, err)
	}
	buf.SourceBitDepth = int(d.BitDepth)
	return buf, nil
}

// mp3 decoders prepend this many samples when the LAME header is missing.
const defaultEncoderDelay = 576

// encoderDelay reads the 12 bit encoder delay that follows the "LAME" tag in
// the first frame.
func encoderDelay(data []byte) int {
	head := data[:min(len(data), 4096)]
	i := bytes.Index(head, []byte("LAME"))
	if i < 0 || i+24 > len(head) {
		return defaultEncoderDelay
	}
	b := head[i+21 : i+24]
	return int(b[0])<<4 | int(b[1])>>4
}

// decodeMP3 decodes to 16 bit stereo and trims the encoder delay so sample 0
// lines up with annotation onsets.
func decodeMP3(path string) (*audio.IntBuffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}

	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode MP3 %s: %w", path, err)
	}
	pcm, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("decode MP3 %s: %w", path, err)
	}

	ints := make([]int, len(pcm)/2)
	for i := range ints {
		ints[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	if skip := 2 * encoderDelay(data); len(ints) > skip {
		ints = ints[skip:]
	}

	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 2, SampleRate: d.SampleRate()},
		Data:           ints,
		SourceBitDepth: 16,
	}, nil
}
