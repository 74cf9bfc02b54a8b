package fetcher

import (
	"context"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
)

// Fetcher defines the interface for downloading the remote spreadsheet export.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	// Any non-2xx response is returned as a *StatusError.
	Download(ctx context.Context, url string) (io.ReadCloser, error)
}

// StatusError is returned when the source answers with a non-success status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// ReadAll downloads url and returns the whole body.
func ReadAll(ctx context.Context, f Fetcher, url string) ([]byte, error) {
	body, err := f.Download(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close() //nolint:errcheck

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: read body")
	}
	return data, nil
}
