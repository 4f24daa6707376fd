package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"mercari-watcher/models"
)

// FilePersister keeps the seen store in a JSON document of the form
// {"<signature>": {"price": 9800, "timestamp": "2024-01-02 15:04:05"}, ...}.
// Keys are written and read in insertion order.
type FilePersister struct {
	path string
}

// NewFilePersister creates a persister for path. The file is not touched
// until the first load or save.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path}
}

// Path returns the backing file.
func (p *FilePersister) Path() string {
	return p.path
}

type fileEntry struct {
	Price     *int64 `json:"price"`
	Timestamp string `json:"timestamp"`
}

// LoadSeen reads the document. A missing file is an empty store, not an error.
func (p *FilePersister) LoadSeen(_ context.Context) ([]models.SeenRecord, error) {
	f, err := os.Open(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: open %q: %w", p.path, err)
	}
	defer f.Close()

	return decodeOrdered(f)
}

func decodeOrdered(r io.Reader) ([]models.SeenRecord, error) {
	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file: decode: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("file: decode: expected object, got %v", tok)
	}

	var records []models.SeenRecord
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("file: decode key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("file: decode: unexpected key %v", keyTok)
		}

		var e fileEntry
		if err := dec.Decode(&e); err != nil {
			return nil, fmt.Errorf("file: decode entry %q: %w", key, err)
		}
		if e.Price == nil || *e.Price < 0 {
			return nil, fmt.Errorf("file: entry %q has no valid price", key)
		}
		records = append(records, models.SeenRecord{Signature: key, Price: *e.Price, Timestamp: e.Timestamp})
	}

	if _, err := dec.Token(); err != nil {
		return nil, fmt.Errorf("file: decode closing: %w", err)
	}
	return records, nil
}

// SaveSeen writes the document to a temp file and renames it over the old one.
func (p *FilePersister) SaveSeen(_ context.Context, records []models.SeenRecord) error {
	data, err := encodeOrdered(records)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("file: create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("file: create temp: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("file: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("file: close: %w", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("file: rename: %w", err)
	}
	return nil
}

func encodeOrdered(records []models.SeenRecord) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, r := range records {
		key, err := json.Marshal(r.Signature)
		if err != nil {
			return nil, fmt.Errorf("file: encode key: %w", err)
		}
		val, err := json.Marshal(models.SeenEntry{Price: r.Price, Timestamp: r.Timestamp})
		if err != nil {
			return nil, fmt.Errorf("file: encode entry: %w", err)
		}
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString("\n  ")
		buf.Write(key)
		buf.WriteString(": ")
		buf.Write(val)
	}
	if len(records) > 0 {
		buf.WriteString("\n")
	}
	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func (p *FilePersister) Close() error { return nil }
