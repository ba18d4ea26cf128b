// Package ops implements the scrap operations shared by the CLI, the MCP
// server, and the web viewer. Every operation validates its input, talks to
// the store through internal/db, and returns *errors.ScrapError on failure.
package ops

import (
	"context"
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/scrapflow/internal/errors"
)

// Pagination limits
const (
	DefaultListLimit = 0 // all rows
	MaxListLimit     = 500
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

func newPagination(limit, offset, returned, total int) Pagination {
	return Pagination{
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+returned < total,
		Total:   total,
	}
}

// Recognizer extracts text from an image. *ocr.Worker satisfies it.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string) (string, error)
}

// now is replaced in tests.
var now = time.Now

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// generateULID returns a new ULID. IDs created within the same millisecond
// still sort in creation order.
func generateULID(t time.Time) (string, error) {
	entropyMu.Lock()
	defer entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

func validatePaging(limit, offset int) (int, int, error) {
	if limit < 0 {
		return 0, 0, errors.NewInvalidRequest("limit must not be negative")
	}
	if offset < 0 {
		return 0, 0, errors.NewInvalidRequest("offset must not be negative")
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, offset, nil
}
