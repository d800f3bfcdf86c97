package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/airlookjs/mediainfo/pkg/logger"
)

const (
	// DirName is the hidden directory, created beside each analysed file,
	// that holds the cached results for the files in that directory.
	DirName = ".cache/mediainfo"

	// FileSuffix is appended to the basename of the source file to
	// form the name of its cache file.
	FileSuffix = ".mediainfo.json"
)

var log = logger.Get("Cache")

// Status describes the outcome of a cache Lookup.
type Status int

const (
	Missing Status = iota
	Stale
	Fresh
)

func (e Status) Values() []string {
	return []string{"MISSING", "STALE", "FRESH"}
}

func (e Status) String() string {
	return e.Values()[e]
}

// Document is a decoded JSON analysis result as stored on disk.
type Document map[string]any

// IOError is returned when the cache directory or file cannot be
// written. Callers are expected to log it and carry on.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("cache %s %s: %s", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// Sidecar stores analysis results in a hidden directory beside the
// source file they describe. A cached result is only considered valid
// while it is at least as new as the source file.
type Sidecar struct{}

func New() *Sidecar {
	return &Sidecar{}
}

// Path returns the location of the cache file for the source file provided.
func (c *Sidecar) Path(source string) string {
	return filepath.Join(filepath.Dir(source), DirName, filepath.Base(source)+FileSuffix)
}

// Lookup returns the cached document for the source file if the cache file
// exists and its modification time is not older than that of the source.
// Stale cache files are left in place.
//
// An error is returned alongside a Missing status if the cache exists but
// could not be read or decoded; such a cache should be treated as absent.
func (c *Sidecar) Lookup(source string) (Document, Status, error) {
	cachePath := c.Path(source)
	cacheInfo, err := os.Stat(cachePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Missing, nil
		}

		return nil, Missing, fmt.Errorf("failed to stat cache file %s: %w", cachePath, err)
	}

	sourceInfo, err := os.Stat(source)
	if err != nil {
		return nil, Missing, fmt.Errorf("failed to stat source file %s: %w", source, err)
	}

	if cacheInfo.ModTime().Before(sourceInfo.ModTime()) {
		log.Emit(logger.INFO, "Cached mediainfo file %s is older than file, ignoring\n", cachePath)
		return nil, Stale, nil
	}

	content, err := os.ReadFile(cachePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, Missing, nil
		}

		return nil, Missing, fmt.Errorf("failed to read cache file %s: %w", cachePath, err)
	}

	doc, err := Decode(content)
	if err != nil {
		return nil, Missing, fmt.Errorf("cache file %s is malformed: %w", cachePath, err)
	}

	return doc, Fresh, nil
}

// Store writes the document to the cache file for the source provided,
// creating the cache directory if needed. The file is replaced atomically
// so a concurrent Lookup never observes a partial write.
func (c *Sidecar) Store(source string, doc Document) error {
	content, err := json.Marshal(doc)
	if err != nil {
		return &IOError{Op: "encode", Path: source, Err: err}
	}

	cachePath := c.Path(source)
	dir := filepath.Dir(cachePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &IOError{Op: "mkdir", Path: dir, Err: err}
	}

	if err := writeFileAtomic(dir, filepath.Base(cachePath), content); err != nil {
		return &IOError{Op: "write", Path: cachePath, Err: err}
	}

	log.Emit(logger.SUCCESS, "Saved mediainfo result to %s\n", cachePath)
	return nil
}

// Decode parses a JSON document, preserving numbers exactly as they were
// written rather than coercing them to float64.
func Decode(content []byte) (Document, error) {
	dec := json.NewDecoder(bytes.NewReader(content))
	dec.UseNumber()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("document is null")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after document")
	}

	return doc, nil
}

func writeFileAtomic(dir string, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpName, filepath.Join(dir, name))
}
