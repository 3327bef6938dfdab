package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// StdOut as the output path writes records to standard output.
const StdOut = "-"

// EncodeRecords writes one JSON object per line.
func EncodeRecords(w io.Writer, recs []Record) error {
	enc := json.NewEncoder(w)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("error encoding record for %s: %w", r.Wallet, err)
		}
	}
	return nil
}

// WriteRecords writes recs as newline-delimited JSON to path. The file is
// written under a temporary name and renamed, so a failure never leaves a
// partial file behind.
func WriteRecords(path string, recs []Record) error {
	if path == "" {
		return errors.New("output path required")
	}
	if path == StdOut {
		return EncodeRecords(os.Stdout, recs)
	}

	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("error creating output file in %s: %w", dir, err)
	}
	tmp := f.Name()

	if err := EncodeRecords(f, recs); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("error closing output file %s: %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("error moving output file to %s: %w", path, err)
	}

	return nil
}
