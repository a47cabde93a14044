// Package archive encodes configuration and batch definitions as a stream
// of length-prefixed msgpack frames.
//
// An archive starts with a header frame followed by any number of
// configuration and batch frames. Each frame is a 4-byte big-endian payload
// length followed by the msgpack payload.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/taskmanager/types"
)

// Frame size constants.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// Frame type discriminants.
const (
	HeaderType        = "header"
	ConfigurationType = "configuration"
	BatchType         = "batch"
)

// FrameErrorKind classifies frame decoding errors.
type FrameErrorKind int

const (
	// FrameErrorPartial indicates a truncated or incomplete frame.
	FrameErrorPartial FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding MaxFrameSize.
	FrameErrorTooLarge
	// FrameErrorDecode indicates a msgpack decoding error.
	FrameErrorDecode
	// FrameErrorHeader indicates a missing or incompatible header.
	FrameErrorHeader
)

// FrameError represents a frame decoding error.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFrameError reports whether err is a frame error of the given kind.
func IsFrameError(err error, kind FrameErrorKind) bool {
	var frameErr *FrameError
	return errors.As(err, &frameErr) && frameErr.Kind == kind
}

// Header opens every archive.
type Header struct {
	Type            string `msgpack:"type"`
	ContractVersion string `msgpack:"contract_version"`
	ExportedAt      string `msgpack:"exported_at"`
}

type configurationFrame struct {
	Type          string               `msgpack:"type"`
	Configuration *types.Configuration `msgpack:"configuration"`
}

type batchFrame struct {
	Type  string       `msgpack:"type"`
	Batch *types.Batch `msgpack:"batch"`
}

// frameTypeProbe is used to peek at the type field without full decode.
type frameTypeProbe struct {
	Type string `msgpack:"type"`
}

// Writer writes an archive.
type Writer struct {
	w io.Writer
}

// NewWriter writes the archive header to w and returns a Writer.
func NewWriter(w io.Writer, exportedAt time.Time) (*Writer, error) {
	aw := &Writer{w: w}
	err := aw.writeFrame(&Header{
		Type:            HeaderType,
		ContractVersion: types.ContractVersion,
		ExportedAt:      exportedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, err
	}
	return aw, nil
}

// WriteConfiguration appends a configuration frame.
func (aw *Writer) WriteConfiguration(cfg *types.Configuration) error {
	return aw.writeFrame(&configurationFrame{Type: ConfigurationType, Configuration: cfg})
}

// WriteBatch appends a batch frame.
func (aw *Writer) WriteBatch(b *types.Batch) error {
	return aw.writeFrame(&batchFrame{Type: BatchType, Batch: b})
}

func (aw *Writer) writeFrame(v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize),
		}
	}
	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := aw.w.Write(lengthBuf[:]); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	if _, err := aw.w.Write(payload); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Contents is a fully decoded archive.
type Contents struct {
	Header         Header
	Configurations []*types.Configuration
	Batches        []*types.Batch
}

// Read decodes a complete archive from r.
func Read(r io.Reader) (*Contents, error) {
	dec := &decoder{reader: r}

	payload, err := dec.readFrame()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &FrameError{Kind: FrameErrorHeader, Msg: "empty archive"}
		}
		return nil, err
	}
	out := &Contents{}
	if err := msgpack.Unmarshal(payload, &out.Header); err != nil {
		return nil, &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode header", Err: err}
	}
	if out.Header.Type != HeaderType {
		return nil, &FrameError{Kind: FrameErrorHeader, Msg: fmt.Sprintf("first frame is %q, want header", out.Header.Type)}
	}
	if err := types.CheckContractVersion(out.Header.ContractVersion); err != nil {
		return nil, &FrameError{Kind: FrameErrorHeader, Msg: "unsupported archive", Err: err}
	}

	for {
		payload, err := dec.readFrame()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if err := out.decode(payload); err != nil {
			return nil, err
		}
	}
}

func (c *Contents) decode(payload []byte) error {
	var probe frameTypeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode frame type", Err: err}
	}

	switch probe.Type {
	case ConfigurationType:
		var f configurationFrame
		if err := msgpack.Unmarshal(payload, &f); err != nil {
			return &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode configuration", Err: err}
		}
		if f.Configuration == nil {
			return &FrameError{Kind: FrameErrorDecode, Msg: "configuration frame without configuration"}
		}
		c.Configurations = append(c.Configurations, f.Configuration)
	case BatchType:
		var f batchFrame
		if err := msgpack.Unmarshal(payload, &f); err != nil {
			return &FrameError{Kind: FrameErrorDecode, Msg: "failed to decode batch", Err: err}
		}
		if f.Batch == nil {
			return &FrameError{Kind: FrameErrorDecode, Msg: "batch frame without batch"}
		}
		c.Batches = append(c.Batches, f.Batch)
	default:
		return &FrameError{Kind: FrameErrorDecode, Msg: fmt.Sprintf("unknown frame type %q", probe.Type)}
	}
	return nil
}

// decoder reads length-prefixed frames.
type decoder struct {
	reader io.Reader
}

// readFrame returns io.EOF when the stream ends cleanly between frames.
func (d *decoder) readFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	_, err := io.ReadFull(d.reader, lengthBuf[:])
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read length prefix",
			Err:  err,
		}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &FrameError{
			Kind: FrameErrorTooLarge,
			Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize),
		}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &FrameError{
			Kind: FrameErrorPartial,
			Msg:  "failed to read payload",
			Err:  err,
		}
	}
	return payload, nil
}
