package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/mchmarny/walletscore/pkg/net"
)

var (
	// ErrNoPages is returned when the document has no "pages" key.
	ErrNoPages = errors.New(`document has no "pages" array`)

	// ErrNoContent is returned when a page has no "content" key.
	ErrNoContent = errors.New(`page has no "content" array`)

	// ErrTrailingData is returned when anything but whitespace follows the
	// document.
	ErrTrailingData = errors.New("unexpected data after document")
)

// ParseError reports an input document that is not valid JSON or does not
// have the paginated structure.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("error parsing %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Batch is the flattened content of a paginated transaction document.
type Batch struct {
	Source       string        `json:"source" yaml:"source"`
	Pages        int           `json:"pages" yaml:"pages"`
	Transactions []Transaction `json:"-" yaml:"-"`
	// Dropped counts records without a wallet address.
	Dropped int `json:"dropped" yaml:"dropped"`
}

type document struct {
	Pages *[]page `json:"pages"`
}

type page struct {
	Content *[]Transaction `json:"content"`
}

// Load reads the JSON document at path and returns all page contents
// concatenated in page order.
func Load(path string) (*Batch, error) {
	if path == "" {
		return nil, errors.New("input path required")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading input file %s: %w", path, err)
	}

	return Decode(path, bytes.NewReader(b))
}

// Decode parses a paginated transaction document from r.
func Decode(source string, r io.Reader) (*Batch, error) {
	var doc document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &ParseError{Source: source, Err: ErrTrailingData}
	}

	if doc.Pages == nil {
		return nil, &ParseError{Source: source, Err: ErrNoPages}
	}

	batch := &Batch{
		Source:       source,
		Pages:        len(*doc.Pages),
		Transactions: make([]Transaction, 0),
	}

	for i, p := range *doc.Pages {
		if p.Content == nil {
			return nil, &ParseError{Source: source, Err: fmt.Errorf("page %d: %w", i, ErrNoContent)}
		}
		for _, t := range *p.Content {
			if !t.Wallet.Valid {
				batch.Dropped++
				continue
			}
			batch.Transactions = append(batch.Transactions, t)
		}
	}

	if batch.Dropped > 0 {
		slog.Warn("dropped transactions without wallet", "source", source, "count", batch.Dropped)
	}

	slog.Debug("input decoded", "source", source, "pages", batch.Pages, "transactions", len(batch.Transactions))
	return batch, nil
}

// IsRemote reports whether the input location is an http(s) URL.
func IsRemote(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// Fetch downloads a remote input document into dir and returns the local path.
func Fetch(ctx context.Context, url, dir string) (string, error) {
	if !IsRemote(url) {
		return "", fmt.Errorf("not a remote location: %s", url)
	}

	name := filepath.Base(url)
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	if name == "" || name == "." || name == "/" {
		name = "transactions.json"
	}

	path := filepath.Join(dir, name)
	if err := net.Download(ctx, url, path); err != nil {
		return "", fmt.Errorf("error downloading %s: %w", url, err)
	}

	slog.Debug("input downloaded", "url", url, "path", path)
	return path, nil
}
