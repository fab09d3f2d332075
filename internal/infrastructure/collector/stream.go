package collector

import (
	"context"
	"io"

	"github.com/tidwall/gjson"
	"github.com/usagebill/backend/internal/domain/billing"
)

// SampleStream consumes a tenant's samples page by page. The cursor only
// advances after a page was delivered, so a failed fetch is resumed from the
// last good cursor and consumed pages are never fetched again.
type SampleStream struct {
	client   *Client
	tenantID string
	tr       billing.TimeRange
	cursor   string
	done     bool
	pages    int
	records  int
}

// Stream starts a sample stream at the first page
func (c *Client) Stream(tenantID string, tr billing.TimeRange) *SampleStream {
	return &SampleStream{client: c, tenantID: tenantID, tr: tr}
}

// Resume continues a stream from a cursor returned by an earlier stream
func (c *Client) Resume(tenantID string, tr billing.TimeRange, cursor string) *SampleStream {
	return &SampleStream{client: c, tenantID: tenantID, tr: tr, cursor: cursor}
}

// Next returns the records of the next page, or io.EOF after the last one
func (s *SampleStream) Next(ctx context.Context) ([]gjson.Result, error) {
	if s.done {
		return nil, io.EOF
	}
	page, err := s.client.FetchSamples(ctx, s.tenantID, s.tr, s.cursor)
	if err != nil {
		return nil, err
	}
	if !page.Last() && page.NextCursor == s.cursor {
		return nil, billing.NewValidationError("collect", "sample cursor %q did not advance", s.cursor)
	}
	s.pages++
	s.records += len(page.Records)
	s.cursor = page.NextCursor
	s.done = page.Last()
	return page.Records, nil
}

// Cursor returns the position after the last delivered page
func (s *SampleStream) Cursor() string {
	return s.cursor
}

// Pages returns how many pages were delivered
func (s *SampleStream) Pages() int {
	return s.pages
}

// Records returns how many raw records were delivered
func (s *SampleStream) Records() int {
	return s.records
}
