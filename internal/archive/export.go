package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/alfredjeanlab/relay/internal/model"
)

// pageSize is how many assignment rows are read per store call.
const pageSize = 500

// Source is the slice of the store the exporter reads.
type Source interface {
	ListAssignments(ctx context.Context, afterID int64, limit int) ([]*model.AssignmentRecord, error)
}

// header is the first JSONL record written by ExportJSONL.
type header struct {
	Version         string    `json:"version"`
	Type            string    `json:"type"`
	Timestamp       time.Time `json:"timestamp"`
	AssignmentCount int       `json:"assignment_count"`
}

// record wraps a single JSONL line with a type discriminator.
type record struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ExportJSONL writes the whole assignment history from src as JSONL to w,
// oldest first. It returns the number of assignments written.
func ExportJSONL(ctx context.Context, src Source, w io.Writer, now time.Time) (int, error) {
	var all []*model.AssignmentRecord
	var after int64
	for {
		page, err := src.ListAssignments(ctx, after, pageSize)
		if err != nil {
			return 0, fmt.Errorf("list assignments after %d: %w", after, err)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			break
		}
		after = page[len(page)-1].ID
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(header{
		Version:         "1",
		Type:            "header",
		Timestamp:       now.UTC(),
		AssignmentCount: len(all),
	}); err != nil {
		return 0, fmt.Errorf("encode header: %w", err)
	}

	for _, a := range all {
		if err := enc.Encode(record{Type: "assignment", Data: a}); err != nil {
			return 0, fmt.Errorf("encode assignment %d: %w", a.ID, err)
		}
	}
	return len(all), nil
}
