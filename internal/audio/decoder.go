package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"

	"github.com/dh1tw/gosamplerate"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// ErrEmptyClip is returned when decoding yields no audio frames.
var ErrEmptyClip = errors.New("decoded clip is empty")

// Format is the container detected from a clip's leading bytes.
type Format int

const (
	FormatUnknown Format = iota
	FormatWAV
	FormatMP3
)

func (f Format) String() string {
	switch f {
	case FormatWAV:
		return "wav"
	case FormatMP3:
		return "mp3"
	default:
		return "unknown"
	}
}

// Sniff detects the container of encoded audio bytes.
func Sniff(data []byte) Format {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3
	default:
		return FormatUnknown
	}
}

// DecodeBytes decodes an encoded clip into a 48kHz stereo Clip. WAV and MP3
// are decoded in-process; anything else goes through FFmpeg.
func DecodeBytes(ctx context.Context, data []byte) (*Clip, error) {
	if len(data) == 0 {
		return nil, ErrEmptyClip
	}

	var (
		clip *Clip
		err  error
	)
	switch Sniff(data) {
	case FormatWAV:
		clip, err = decodeWAV(ctx, data)
	case FormatMP3:
		clip, err = decodeMP3(ctx, data)
	default:
		clip, err = decodeFFmpeg(ctx, data)
	}
	if err != nil {
		return nil, err
	}
	if clip.Frames() == 0 {
		return nil, ErrEmptyClip
	}
	return clip, nil
}

func decodeWAV(ctx context.Context, data []byte) (*Clip, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("invalid WAV data")
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("wav: seek to PCM: %w", err)
	}

	format := dec.Format()
	bitDepth := int(dec.SampleBitDepth())
	if bitDepth == 0 || format.NumChannels == 0 {
		return nil, errors.New("wav: unknown sample layout")
	}
	bytesPerSample := (bitDepth-1)/8 + 1
	nsamples := int(dec.PCMLen()) / bytesPerSample

	buf := &goaudio.IntBuffer{
		Format:         format,
		Data:           make([]int, nsamples),
		SourceBitDepth: bitDepth,
	}
	n, err := dec.PCMBuffer(buf)
	if err != nil {
		return nil, fmt.Errorf("wav: read PCM: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	factor := float32(math.Pow(2, float64(bitDepth-1)))
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = float32(buf.Data[i]) / factor
	}
	return toClip(samples, format.SampleRate, format.NumChannels)
}

func decodeMP3(ctx context.Context, data []byte) (*Clip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3: read PCM: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// go-mp3 always yields 16-bit little-endian stereo.
	return toClip(pcm16ToFloat(pcm), dec.SampleRate(), 2)
}

// decodeFFmpeg pipes the bytes through FFmpeg, which emits 48kHz stereo PCM.
func decodeFFmpeg(ctx context.Context, data []byte) (*Clip, error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("ffmpeg decode: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return NewClip(pcm16ToFloat(out)), nil
}

func pcm16ToFloat(pcm []byte) []float32 {
	// Ensure even byte count for int16 alignment
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		samples[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / 32768
	}
	return samples
}

// toClip converts interleaved samples of any channel count and rate into a
// 48kHz stereo Clip.
func toClip(samples []float32, rate, channels int) (*Clip, error) {
	stereo := ToStereo(samples, channels)
	if rate != SampleRate {
		var err error
		stereo, err = Resample(stereo, rate)
		if err != nil {
			return nil, err
		}
	}
	return NewClip(stereo), nil
}

// ToStereo folds interleaved audio with the given channel count to stereo.
// Mono is duplicated; extra channels beyond the first two are dropped.
func ToStereo(samples []float32, channels int) []float32 {
	switch {
	case channels == 2:
		return samples
	case channels <= 0:
		return nil
	}
	frames := len(samples) / channels
	out := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		l := samples[i*channels]
		r := l
		if channels > 1 {
			r = samples[i*channels+1]
		}
		out[i*2] = l
		out[i*2+1] = r
	}
	return out
}

// Resample converts interleaved stereo samples from rate to SampleRate.
func Resample(stereo []float32, rate int) ([]float32, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", rate)
	}
	if rate == SampleRate || len(stereo) == 0 {
		return stereo, nil
	}
	out, err := gosamplerate.Simple(stereo, float64(SampleRate)/float64(rate), Channels, gosamplerate.SRC_SINC_FASTEST)
	if err != nil {
		return nil, fmt.Errorf("resample %d -> %d: %w", rate, SampleRate, err)
	}
	return out, nil
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
