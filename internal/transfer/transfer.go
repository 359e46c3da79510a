// Package transfer moves notes between a store and JSONL or YAML files.
package transfer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quillnotes/quill/internal/note"
)

// Format is an export file format.
type Format string

const (
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// ParseFormat accepts a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSONL, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown export format %q (want jsonl or yaml)", s)
	}
}

// Lister reads an owner's notes.
type Lister interface {
	List(ctx context.Context, ownerID string) ([]note.Note, error)
}

// Importer upserts complete notes.
type Importer interface {
	Import(ctx context.Context, notes []note.Note) error
}

// Write encodes notes to w in the given format.
func Write(w io.Writer, notes []note.Note, format Format) error {
	switch format {
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for i := range notes {
			if err := enc.Encode(&notes[i]); err != nil {
				return fmt.Errorf("failed to encode note %s: %w", notes[i].ID, err)
			}
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(notes); err != nil {
			return fmt.Errorf("failed to encode notes: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// ReadJSONL decodes one note per line. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]note.Note, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var notes []note.Note
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var n note.Note
		if err := json.Unmarshal([]byte(line), &n); err != nil {
			return nil, fmt.Errorf("invalid JSON at line %d: %w", lineNum, err)
		}
		n.Tags = note.NormalizeTags(n.Tags)
		notes = append(notes, n)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read JSONL: %w", err)
	}
	return notes, nil
}

// ReadYAML decodes a YAML list of notes.
func ReadYAML(r io.Reader) ([]note.Note, error) {
	var notes []note.Note
	if err := yaml.NewDecoder(r).Decode(&notes); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	for i := range notes {
		notes[i].Tags = note.NormalizeTags(notes[i].Tags)
	}
	return notes, nil
}

// Export writes ownerID's notes to path, replacing it atomically.
func Export(ctx context.Context, src Lister, ownerID, path string, format Format) (int, error) {
	notes, err := src.List(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to list notes: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return 0, fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}

	if err := Write(f, notes, format); err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return 0, err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return len(notes), nil
}

// ImportOptions configures Import.
type ImportOptions struct {
	Path string

	// Owner, when set, reassigns every imported note to this owner.
	Owner string

	DryRun bool // Parse and validate without writing
	Backup bool // Copy the input file aside first
}

// ImportResult summarizes an import.
type ImportResult struct {
	Read          int
	Imported      int
	Skipped       []string
	BackupCreated string
}

// Import reads path (JSONL, or YAML by extension) and upserts every valid
// note. Invalid notes are skipped and reported.
func Import(ctx context.Context, dst Importer, opts ImportOptions) (*ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer file.Close()

	result := &ImportResult{}

	if opts.Backup && !opts.DryRun {
		backupPath := opts.Path + ".backup." + time.Now().Format("20060102-150405")
		input, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to read input for backup: %w", err)
		}
		if err := os.WriteFile(backupPath, input, 0600); err != nil {
			return nil, fmt.Errorf("failed to create backup: %w", err)
		}
		result.BackupCreated = backupPath
	}

	var notes []note.Note
	switch strings.ToLower(filepath.Ext(opts.Path)) {
	case ".yaml", ".yml":
		notes, err = ReadYAML(file)
	default:
		notes, err = ReadJSONL(file)
	}
	if err != nil {
		return nil, err
	}
	result.Read = len(notes)

	valid := make([]note.Note, 0, len(notes))
	for _, n := range notes {
		if opts.Owner != "" {
			n.OwnerID = opts.Owner
		}
		if err := n.Validate(); err != nil {
			result.Skipped = append(result.Skipped, fmt.Sprintf("%s: %v", n.ID, err))
			continue
		}
		valid = append(valid, n)
	}

	if opts.DryRun || len(valid) == 0 {
		return result, nil
	}
	if err := dst.Import(ctx, valid); err != nil {
		return nil, fmt.Errorf("failed to import notes: %w", err)
	}
	result.Imported = len(valid)
	return result, nil
}
