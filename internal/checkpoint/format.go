// Package checkpoint saves and restores population snapshots so a run can be
// resumed or inspected later.
//
// A checkpoint file is a plain JSON header line followed by a
// gzip-compressed JSON payload. The header carries a SHA-256 checksum of
// the compressed bytes so integrity can be checked without decompressing.
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

	"github.com/nvandessel/resistsim/internal/population"
)

// FormatVersion is the current checkpoint format version.
const FormatVersion = 1

// MaxDecompressedSize is the maximum allowed size of a decompressed payload (200MB).
const MaxDecompressedSize = 200 * 1024 * 1024

// ErrChecksumMismatch is returned when the payload does not match the header checksum.
var ErrChecksumMismatch = errors.New("checkpoint checksum mismatch")

// Header is the plain-text first line of a checkpoint file.
type Header struct {
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	Checksum   string    `json:"checksum"`
	Sites      int       `json:"sites"`
	Cells      int       `json:"cells"`
	Time       float64   `json:"time"`
	Compressed bool      `json:"compressed"`
}

// Checkpoint is a saved scheduler position.
type Checkpoint struct {
	Version   int                 `json:"version"`
	CreatedAt time.Time           `json:"created_at"`
	RunID     string              `json:"run_id,omitempty"`
	Seed      uint64              `json:"seed"`
	Time      float64             `json:"time"`
	Events    int64               `json:"events"`
	Status    string              `json:"status"`
	Config    json.RawMessage     `json:"config,omitempty"`
	Snapshot  population.Snapshot `json:"snapshot"`
}

// Write saves c to path as header line + gzip payload.
func Write(path string, c *Checkpoint) error {
	if err := c.Snapshot.Validate(); err != nil {
		return fmt.Errorf("refusing to checkpoint invalid population: %w", err)
	}
	if c.Version == 0 {
		c.Version = FormatVersion
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(c)
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
		Version:    c.Version,
		CreatedAt:  c.CreatedAt,
		Checksum:   checksum(compressed.Bytes()),
		Sites:      c.Snapshot.Len(),
		Cells:      c.Snapshot.TotalCells(),
		Time:       c.Time,
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

	if _, err := f.Write(append(headerBytes, '\n')); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := f.Write(compressed.Bytes()); err != nil {
		return fmt.Errorf("writing compressed payload: %w", err)
	}
	return f.Close()
}

// Read loads a checkpoint, verifying the checksum and the population invariants.
func Read(path string) (*Checkpoint, error) {
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

	var c Checkpoint
	if err := json.Unmarshal(decompressed, &c); err != nil {
		return nil, fmt.Errorf("parsing checkpoint data: %w", err)
	}
	if err := c.Snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("checkpoint population: %w", err)
	}
	return &c, nil
}

// ReadHeader reads only the header line without decompressing.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	return parseHeader(bufio.NewReader(f))
}

// Verify checks the payload checksum without decompressing.
func Verify(path string) error {
	header, compressed, err := readRaw(path)
	if err != nil {
		return err
	}
	return verify(header, compressed)
}

// Restore loads the checkpoint's population into s.
func (c *Checkpoint) Restore(s *population.State) error {
	return s.Restore(c.Snapshot)
}

func readRaw(path string) (*Header, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	header, err := parseHeader(reader)
	if err != nil {
		return nil, nil, err
	}
	compressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, nil, fmt.Errorf("reading compressed payload: %w", err)
	}
	return header, compressed, nil
}

func parseHeader(r *bufio.Reader) (*Header, error) {
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
		return fmt.Errorf("%w: expected %s, got %s", ErrChecksumMismatch, header.Checksum, actual)
	}
	return nil
}

func checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}
