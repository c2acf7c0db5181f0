// Package codec is the wire encoding of the remote protocol: deterministic
// CBOR messages, optionally zstd-compressed, carried in a one-byte-tagged
// frame.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): the same
// message always produces identical bytes.
var encMode cbor.EncMode

// decMode accepts standard CBOR and ignores unknown fields.
var decMode cbor.DecMode

// zstd encoders and decoders are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}

	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Frame tags. They are protocol constants.
const (
	framePlain byte = 0
	frameZstd  byte = 1
)

// DefaultMaxFrameSize bounds a decoded frame unless the caller sets a limit.
const DefaultMaxFrameSize = 64 << 20

// ErrFrameTooLarge is returned when a frame exceeds the size limit.
var ErrFrameTooLarge = errors.New("codec: frame exceeds size limit")

// WriteFrame encodes v and writes it to w as a single frame.
func WriteFrame(w io.Writer, v any, compress bool) error {
	payload, err := Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: encode: %w", err)
	}
	tag := framePlain
	if compress {
		payload = zstdEncoder.EncodeAll(payload, nil)
		tag = frameZstd
	}
	if _, err := w.Write([]byte{tag}); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadFrame reads one frame from r until EOF and decodes it into v. It
// reports whether the frame was compressed so replies can match. A
// maxSize of zero means DefaultMaxFrameSize.
func ReadFrame(r io.Reader, v any, maxSize int64) (compressed bool, err error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	raw, err := io.ReadAll(io.LimitReader(r, maxSize+2))
	if err != nil {
		return false, err
	}
	if len(raw) == 0 {
		return false, io.ErrUnexpectedEOF
	}
	if int64(len(raw)) > maxSize+1 {
		return false, ErrFrameTooLarge
	}

	payload := raw[1:]
	switch raw[0] {
	case framePlain:
	case frameZstd:
		compressed = true
		payload, err = zstdDecoder.DecodeAll(payload, nil)
		if err != nil {
			return true, fmt.Errorf("codec: decompress: %w", err)
		}
		if int64(len(payload)) > maxSize {
			return true, ErrFrameTooLarge
		}
	default:
		return false, fmt.Errorf("codec: unknown frame tag %d", raw[0])
	}

	if err := Unmarshal(payload, v); err != nil {
		return compressed, fmt.Errorf("codec: decode: %w", err)
	}
	return compressed, nil
}

// EncodeFrame is WriteFrame into a fresh buffer.
func EncodeFrame(v any, compress bool) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteFrame(&buf, v, compress); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
