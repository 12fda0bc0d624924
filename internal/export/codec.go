package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// ContentTypeMsgpack is the media type of EncodeMsgpack output.
const ContentTypeMsgpack = "application/msgpack"

// EncodeMsgpack writes snap to w.
func EncodeMsgpack(w io.Writer, snap *Snapshot) error {
	return msgpack.NewEncoder(w).Encode(snap)
}

// DecodeMsgpack reads a snapshot written by EncodeMsgpack.
func DecodeMsgpack(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := msgpack.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return &snap, nil
}

// WriteFile writes snap to path as msgpack (.msgpack, .mpk) or indented JSON
// (.json).
func WriteFile(path string, snap *Snapshot) error {
	encode, err := encoderFor(path)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	if err := encode(w, snap); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ReadFile reads a snapshot written by WriteFile.
func ReadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var snap Snapshot
		if err := json.NewDecoder(bufio.NewReader(f)).Decode(&snap); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		return &snap, nil
	default:
		return DecodeMsgpack(bufio.NewReader(f))
	}
}

func encoderFor(path string) (func(io.Writer, *Snapshot) error, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".msgpack", ".mpk":
		return EncodeMsgpack, nil
	case ".json":
		return func(w io.Writer, snap *Snapshot) error {
			enc := json.NewEncoder(w)
			enc.SetIndent("", "  ")
			return enc.Encode(snap)
		}, nil
	default:
		return nil, fmt.Errorf("unsupported export extension %q (want .msgpack, .mpk or .json)", filepath.Ext(path))
	}
}
