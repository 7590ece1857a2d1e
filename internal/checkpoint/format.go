// Package checkpoint saves and restores engine state. A checkpoint file is a
// plain JSON header line followed by a gzip-compressed JSON payload; the
// header carries a sha256 checksum of the compressed bytes.
package checkpoint

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nvandessel/cura/internal/epidemic"
)

// FormatVersion is the only checkpoint format this package reads or writes.
const FormatVersion = 2

// MaxDecompressedSize is the maximum allowed size of a decompressed payload (500MB).
const MaxDecompressedSize = 500 * 1024 * 1024

// ErrChecksumMismatch is returned when the payload does not match the header.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// Header is the plain-text first line of a checkpoint file.
type Header struct {
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	Checksum   string    `json:"checksum"`
	RunID      string    `json:"run_id,omitempty"`
	Tracts     int       `json:"tracts"`
	Day        int       `json:"day"`
	Compressed bool      `json:"compressed"`
}

// Checkpoint is a decoded checkpoint file.
type Checkpoint struct {
	Header Header
	State  epidemic.State
}

// Write stores state at path.
func Write(path, runID string, state epidemic.State) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}

	var compressed bytes.Buffer
	gzw, err := gzip.NewWriterLevel(&compressed, gzip.DefaultCompression)
	if err != nil {
		return fmt.Errorf("creating gzip writer: %w", err)
	}
	if _, err := gzw.Write(payload); err != nil {
		return fmt.Errorf("compressing payload: %w", err)
	}
	if err := gzw.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}

	header := Header{
		Version:    FormatVersion,
		CreatedAt:  time.Now().UTC(),
		Checksum:   checksum(compressed.Bytes()),
		RunID:      runID,
		Tracts:     len(state.Compartments),
		Day:        state.Day,
		Compressed: true,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("marshaling header: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	w.Write(headerBytes)
	w.WriteByte('\n')
	w.Write(compressed.Bytes())
	if err := w.Flush(); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return f.Close()
}

// Save writes the engine's current state to path.
func Save(path, runID string, e *epidemic.Engine) error {
	return Write(path, runID, e.State())
}

// Load reads a checkpoint, verifying its checksum before decompressing.
func Load(path string) (*Checkpoint, error) {
	header, compressed, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	if err := verify(header, compressed); err != nil {
		return nil, err
	}

	gzr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	decompressed, err := io.ReadAll(io.LimitReader(gzr, MaxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("decompressing payload: %w", err)
	}
	if int64(len(decompressed)) > MaxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds maximum size of %d bytes", MaxDecompressedSize)
	}

	var state epidemic.State
	if err := json.Unmarshal(decompressed, &state); err != nil {
		return nil, fmt.Errorf("parsing checkpoint data: %w", err)
	}
	if state.Day != header.Day || len(state.Compartments) != header.Tracts {
		return nil, fmt.Errorf("payload (day %d, %d tracts) does not match header (day %d, %d tracts)",
			state.Day, len(state.Compartments), header.Day, header.Tracts)
	}

	return &Checkpoint{Header: *header, State: state}, nil
}

// ReadHeader reads only the header line without decompressing.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	return readHeader(bufio.NewReader(f))
}

// Verify checks the integrity of a checkpoint file without decompressing.
func Verify(path string) error {
	header, compressed, err := readRaw(path)
	if err != nil {
		return err
	}
	return verify(header, compressed)
}

func readRaw(path string) (*Header, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	header, err := readHeader(reader)
	if err != nil {
		return nil, nil, err
	}

	compressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("reading compressed payload: %w", err)
	}
	return header, compressed, nil
}

func readHeader(r *bufio.Reader) (*Header, error) {
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("reading header line: %w", err)
	}

	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(line), &header); err != nil {
		return nil, fmt.Errorf("parsing header: %w", err)
	}
	if header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported checkpoint version %d", header.Version)
	}
	return &header, nil
}

func verify(header *Header, compressed []byte) error {
	if actual := checksum(compressed); actual != header.Checksum {
		return fmt.Errorf("expected %s, got %s: %w", header.Checksum, actual, ErrChecksumMismatch)
	}
	return nil
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}
