package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// ErrUnsupported is returned for files the engine cannot decode.
var ErrUnsupported = errors.New("unsupported audio format")

// decoder yields 16-bit little-endian stereo PCM at sampleRate.
type decoder interface {
	io.ReadSeeker
	// Length is the PCM length in bytes.
	Length() int64
}

// newDecoder picks a decoder by file extension.
func newDecoder(f *os.File) (decoder, error) {
	ext := strings.ToLower(filepath.Ext(f.Name()))
	switch ext {
	case ".mp3":
		dec, err := mp3.NewDecoder(f)
		if err != nil {
			return nil, fmt.Errorf("decoding mp3: %w", err)
		}
		if dec.SampleRate() != sampleRate {
			return nil, fmt.Errorf("%w: mp3 at %d Hz", ErrUnsupported, dec.SampleRate())
		}
		return dec, nil
	case ".wav":
		return newWAVDecoder(f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}

// wavDecoder converts 8/16/24/32-bit stereo PCM to 16-bit output.
type wavDecoder struct {
	src          io.ReadSeeker
	buf          []byte
	pos          int64
	totalBytes   int64
	pcmStart     int64
	srcBitDepth  int
	srcFrameSize int64
}

func newWAVDecoder(src io.ReadSeeker) (*wavDecoder, error) {
	dec := wav.NewDecoder(src)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: invalid wav file", ErrUnsupported)
	}
	if err := dec.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("reading wav pcm data: %w", err)
	}
	if int(dec.SampleRate) != sampleRate || int(dec.NumChans) != channelCount {
		return nil, fmt.Errorf("%w: wav with %d Hz, %d channels", ErrUnsupported, dec.SampleRate, dec.NumChans)
	}

	bitDepth := int(dec.BitDepth)
	switch bitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d-bit wav", ErrUnsupported, bitDepth)
	}
	srcFrameSize := int64(channelCount * bitDepth / 8)

	pcmStart, err := src.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("locating wav pcm data: %w", err)
	}

	frames := dec.PCMLen() / srcFrameSize
	return &wavDecoder{
		src:          src,
		totalBytes:   frames * frameSize,
		pcmStart:     pcmStart,
		srcBitDepth:  bitDepth,
		srcFrameSize: srcFrameSize,
	}, nil
}

func (d *wavDecoder) Read(p []byte) (int, error) {
	if len(d.buf) > 0 {
		n := copy(p, d.buf)
		d.buf = d.buf[n:]
		d.pos += int64(n)
		return n, nil
	}
	if d.pos >= d.totalBytes {
		return 0, io.EOF
	}

	srcBytesPerSample := d.srcBitDepth / 8
	samples := max(len(p)/bytesPerSample, 1)
	if remaining := int((d.totalBytes - d.pos) / bytesPerSample); samples > remaining {
		samples = remaining
	}
	srcBytes := make([]byte, samples*srcBytesPerSample)
	n, err := io.ReadFull(d.src, srcBytes)
	samples = n / srcBytesPerSample
	if samples == 0 {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return 0, err
	}

	raw := make([]byte, samples*bytesPerSample)
	for i := range samples {
		s := convertSample(srcBytes[i*srcBytesPerSample:], d.srcBitDepth)
		binary.LittleEndian.PutUint16(raw[i*bytesPerSample:], uint16(s))
	}

	written := copy(p, raw)
	if written < len(raw) {
		d.buf = raw[written:]
	}
	d.pos += int64(written)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return written, err
}

func convertSample(b []byte, bitDepth int) int16 {
	switch bitDepth {
	case 8:
		// 8-bit wav is unsigned.
		return int16((int(b[0]) - 128) << 8)
	case 16:
		return int16(binary.LittleEndian.Uint16(b))
	case 24:
		s := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if s&0x800000 != 0 {
			s |= ^0xFFFFFF
		}
		return int16(s >> 8)
	default:
		return int16(int32(binary.LittleEndian.Uint32(b)) >> 16)
	}
}

func (d *wavDecoder) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = d.pos + offset
	case io.SeekEnd:
		pos = d.totalBytes + offset
	}
	pos = min(max(pos, 0), d.totalBytes)
	pos -= pos % frameSize

	if _, err := d.src.Seek(d.pcmStart+pos/frameSize*d.srcFrameSize, io.SeekStart); err != nil {
		return d.pos, err
	}
	d.buf = nil
	d.pos = pos
	return pos, nil
}

func (d *wavDecoder) Length() int64 { return d.totalBytes }
