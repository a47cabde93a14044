package archive

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/taskmanager/types"
)

var exportedAt = time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

func encodeFrame(payload []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(payload)))
	copy(buf[LengthPrefixSize:], payload)
	return buf
}

func testConfiguration() *types.Configuration {
	cfg := &types.Configuration{Name: "roads", Workspace: "topp", Template: true}
	cfg.SetAttribute("layer", "roads")
	tk := &types.Task{Name: "stamp", Type: "TimeStamp"}
	tk.SetParameter("layer", types.AttributeValue("layer"))
	cfg.AddTask(tk)
	return cfg
}

func testBatch() *types.Batch {
	b := &types.Batch{Name: "nightly", Frequency: "0 2 * * *", Enabled: true}
	b.AddElement(types.TaskRef{Configuration: "roads", Task: "stamp"})
	return b
}

func writeArchive(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriter(&buf, exportedAt)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.WriteConfiguration(testConfiguration()); err != nil {
		t.Fatalf("WriteConfiguration: %v", err)
	}
	if err := w.WriteBatch(testBatch()); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	return &buf
}

func TestArchive_ReadBack(t *testing.T) {
	got, err := Read(writeArchive(t))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Header.ContractVersion != types.ContractVersion {
		t.Errorf("ContractVersion = %q, want %q", got.Header.ContractVersion, types.ContractVersion)
	}
	if got.Header.ExportedAt != "2026-03-01T02:00:00Z" {
		t.Errorf("ExportedAt = %q", got.Header.ExportedAt)
	}
	if len(got.Configurations) != 1 || len(got.Batches) != 1 {
		t.Fatalf("decoded %d configurations, %d batches", len(got.Configurations), len(got.Batches))
	}
	cfg := got.Configurations[0]
	if !cfg.Template || cfg.Workspace != "topp" {
		t.Errorf("configuration metadata = %+v", cfg)
	}
	if p := cfg.Tasks["stamp"].Parameters["layer"]; p.Value != "${layer}" {
		t.Errorf("parameter value = %q, want ${layer}", p.Value)
	}
	if b := got.Batches[0]; !b.Enabled || len(b.Elements) != 1 || b.Elements[0].Task.Task != "stamp" {
		t.Errorf("batch = %+v", b)
	}
}

func TestRead_Empty(t *testing.T) {
	_, err := Read(bytes.NewReader(nil))
	if !IsFrameError(err, FrameErrorHeader) {
		t.Errorf("Read(empty) error = %v, want header error", err)
	}
}

func TestRead_MissingHeader(t *testing.T) {
	payload, _ := msgpack.Marshal(&batchFrame{Type: BatchType, Batch: testBatch()})
	_, err := Read(bytes.NewReader(encodeFrame(payload)))
	if !IsFrameError(err, FrameErrorHeader) {
		t.Errorf("Read error = %v, want header error", err)
	}
}

func TestRead_IncompatibleVersion(t *testing.T) {
	payload, _ := msgpack.Marshal(&Header{Type: HeaderType, ContractVersion: "9.0.0"})
	_, err := Read(bytes.NewReader(encodeFrame(payload)))
	if !IsFrameError(err, FrameErrorHeader) {
		t.Errorf("Read error = %v, want header error", err)
	}
}

func TestRead_Truncated(t *testing.T) {
	data := writeArchive(t).Bytes()
	_, err := Read(bytes.NewReader(data[:len(data)-3]))
	if !IsFrameError(err, FrameErrorPartial) {
		t.Errorf("Read error = %v, want partial frame error", err)
	}
}

func TestRead_OversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(writeArchive(t).Bytes())
	var prefix [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(prefix[:], MaxPayloadSize+1)
	buf.Write(prefix[:])

	_, err := Read(&buf)
	if !IsFrameError(err, FrameErrorTooLarge) {
		t.Errorf("Read error = %v, want too large error", err)
	}
}

func TestRead_UnknownFrameType(t *testing.T) {
	buf := writeArchive(t)
	payload, _ := msgpack.Marshal(map[string]any{"type": "run"})
	buf.Write(encodeFrame(payload))

	_, err := Read(buf)
	if !IsFrameError(err, FrameErrorDecode) {
		t.Errorf("Read error = %v, want decode error", err)
	}
}
