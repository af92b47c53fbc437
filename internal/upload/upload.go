package upload

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/yungbote/neurobridge-chat/internal/domain/chat"
)

const (
	ChunkSize   int64 = 5 << 20
	MaxFileSize int64 = 100 << 20
)

// File is one attachment picked for upload. Names must be unique within a batch.
type File struct {
	Name        string
	ContentType string
	// Kind is the picker's media kind (photo or video); optional.
	Kind   chat.EntityType
	Size   int64
	Reader io.ReaderAt
}

type Part struct {
	Number int
	Offset int64
	Size   int64
}

// Plan splits size bytes into ceil(size/chunk) parts numbered from 1.
func Plan(size, chunk int64) []Part {
	if size <= 0 {
		return nil
	}
	if chunk <= 0 {
		chunk = ChunkSize
	}
	n := (size + chunk - 1) / chunk
	parts := make([]Part, 0, n)
	for i := int64(0); i < n; i++ {
		off := i * chunk
		sz := chunk
		if off+sz > size {
			sz = size - off
		}
		parts = append(parts, Part{Number: int(i) + 1, Offset: off, Size: sz})
	}
	return parts
}

type Problem struct {
	Name   string
	Reason string
}

// ValidationError is returned before any network call when a batch contains
// files that can never be uploaded.
type ValidationError struct {
	Problems []Problem
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		parts = append(parts, fmt.Sprintf("%s: %s", p.Name, p.Reason))
	}
	return "invalid upload batch: " + strings.Join(parts, "; ")
}

// Names lists the offending files.
func (e *ValidationError) Names() []string {
	out := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		out = append(out, p.Name)
	}
	return out
}

// Validate checks sizes and names against max. It does no I/O.
func Validate(files []File, max int64) error {
	if max <= 0 {
		max = MaxFileSize
	}
	var problems []Problem
	seen := make(map[string]bool, len(files))
	for _, f := range files {
		name := strings.TrimSpace(f.Name)
		switch {
		case name == "":
			problems = append(problems, Problem{Name: "(unnamed)", Reason: "file name required"})
			continue
		case seen[name]:
			problems = append(problems, Problem{Name: name, Reason: "duplicate file name in batch"})
			continue
		}
		seen[name] = true
		switch {
		case f.Size <= 0:
			problems = append(problems, Problem{Name: name, Reason: "file is empty"})
		case f.Size > max:
			problems = append(problems, Problem{
				Name:   name,
				Reason: fmt.Sprintf("%s exceeds the %s limit", humanize.IBytes(uint64(f.Size)), humanize.IBytes(uint64(max))),
			})
		case f.Reader == nil:
			problems = append(problems, Problem{Name: name, Reason: "no content"})
		}
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

type FileResult struct {
	Name     string
	Key      string
	Location string
	Size     int64
	Parts    int
	Err      error
}

type BatchResult struct {
	Files []FileResult
}

// Locations returns the URLs of the files that completed, in input order.
func (r *BatchResult) Locations() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.Files))
	for _, f := range r.Files {
		if f.Err == nil && f.Location != "" {
			out = append(out, f.Location)
		}
	}
	return out
}

// BatchError names every file that failed. Completed siblings stay uploaded.
type BatchError struct {
	Failed []FileResult
}

func (e *BatchError) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Name, f.Err))
	}
	return fmt.Sprintf("upload failed for %d file(s): %s", len(e.Failed), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	out := make([]error, 0, len(e.Failed))
	for _, f := range e.Failed {
		out = append(out, f.Err)
	}
	return out
}
