// Package audiofile reads and writes WAV artifacts: duration probing for
// assembly validation, and chunk concatenation for chapter audio.
package audiofile

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const wavAudioFormat = 1 // PCM

var (
	// ErrNotWAV indicates data that is not a decodable WAV stream.
	ErrNotWAV = errors.New("not a valid WAV stream")
	// ErrNoChunks indicates a concatenation request with no inputs.
	ErrNoChunks = errors.New("no audio chunks to concatenate")
	// ErrFormatMismatch indicates chunks with differing sample formats.
	ErrFormatMismatch = errors.New("audio chunks have mismatched formats")
)

// Duration returns the play time of WAV data held in memory.
func Duration(data []byte) (time.Duration, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return 0, ErrNotWAV
	}

	duration, err := pcmDuration(decoder)
	if err != nil {
		return 0, fmt.Errorf("read WAV duration: %w", err)
	}

	return duration, nil
}

// DurationOfFile returns the play time of a WAV file on disk.
func DurationOfFile(path string) (time.Duration, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open WAV file '%s': %w", path, err)
	}
	defer file.Close()

	decoder := wav.NewDecoder(file)
	if !decoder.IsValidFile() {
		return 0, fmt.Errorf("%w: %s", ErrNotWAV, path)
	}

	duration, err := pcmDuration(decoder)
	if err != nil {
		return 0, fmt.Errorf("read WAV duration of '%s': %w", path, err)
	}

	return duration, nil
}

// pcmDuration computes play time from the data chunk alone. The
// decoder's own Duration method divides the whole RIFF size by the byte
// rate, which counts header bytes as audio and overstates the result.
func pcmDuration(decoder *wav.Decoder) (time.Duration, error) {
	err := decoder.FwdToPCM()
	if err != nil {
		return 0, fmt.Errorf("locate PCM data: %w", err)
	}

	bytesPerFrame := int64(decoder.NumChans) * int64(decoder.BitDepth) / 8
	if bytesPerFrame == 0 || decoder.SampleRate == 0 {
		return 0, ErrNotWAV
	}

	frames := decoder.PCMLen() / bytesPerFrame

	return time.Duration(frames) * time.Second / time.Duration(decoder.SampleRate), nil
}

// Concat joins in-memory WAV chunks, in the given order, into one WAV
// file at outPath. All chunks must share sample rate, bit depth, and
// channel count; the synthesis engine guarantees that for one voice.
func Concat(chunks [][]byte, outPath string) error {
	if len(chunks) == 0 {
		return ErrNoChunks
	}

	var (
		merged     *audio.IntBuffer
		sampleRate int
		bitDepth   int
		channels   int
	)

	for i, chunk := range chunks {
		decoder := wav.NewDecoder(bytes.NewReader(chunk))
		if !decoder.IsValidFile() {
			return fmt.Errorf("%w: chunk %d", ErrNotWAV, i)
		}

		buf, err := decoder.FullPCMBuffer()
		if err != nil {
			return fmt.Errorf("decode chunk %d: %w", i, err)
		}

		if merged == nil {
			sampleRate = buf.Format.SampleRate
			bitDepth = int(decoder.BitDepth)
			channels = buf.Format.NumChannels
			merged = &audio.IntBuffer{
				Format:         buf.Format,
				SourceBitDepth: buf.SourceBitDepth,
			}
		} else if buf.Format.SampleRate != sampleRate || buf.Format.NumChannels != channels {
			return fmt.Errorf("%w: chunk %d", ErrFormatMismatch, i)
		}

		merged.Data = append(merged.Data, buf.Data...)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create '%s': %w", outPath, err)
	}

	encoder := wav.NewEncoder(out, sampleRate, bitDepth, channels, wavAudioFormat)

	err = encoder.Write(merged)
	if err != nil {
		_ = encoder.Close()
		_ = out.Close()

		return fmt.Errorf("write merged WAV to '%s': %w", outPath, err)
	}

	err = encoder.Close()
	if err != nil {
		_ = out.Close()

		return fmt.Errorf("finalize merged WAV '%s': %w", outPath, err)
	}

	err = out.Close()
	if err != nil {
		return fmt.Errorf("close '%s': %w", outPath, err)
	}

	return nil
}
