package notion

import (
	"context"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Rule database property names.
const (
	PropStatus   = "Status"
	PropPriority = "Priority"

	StatusActive = "Active"
)

// maxPages stops a cursor loop that never reports the end of results.
const maxPages = 1000

// Query narrows a database read. Zero fields apply no filter or sort.
type Query struct {
	Status   string
	SortBy   string
	PageSize int
}

func (q Query) request(cursor notionapi.Cursor) *notionapi.DatabaseQueryRequest {
	req := &notionapi.DatabaseQueryRequest{
		StartCursor: cursor,
		PageSize:    q.PageSize,
	}
	if q.Status != "" {
		req.Filter = notionapi.PropertyFilter{
			Property: PropStatus,
			Status:   &notionapi.StatusFilterCondition{Equals: q.Status},
		}
	}
	if q.SortBy != "" {
		req.Sorts = []notionapi.SortObject{{
			Property:  q.SortBy,
			Direction: notionapi.SortOrderASC,
		}}
	}
	return req
}

// Pages reads every page matching q, following cursors in order.
func Pages(ctx context.Context, c Client, dbID string, q Query) ([]notionapi.Page, error) {
	var (
		all    []notionapi.Page
		cursor notionapi.Cursor
	)
	for n := 0; n < maxPages; n++ {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "notion: read pages")
		}

		resp, err := c.QueryDatabase(ctx, dbID, q.request(cursor))
		if err != nil {
			return nil, eris.Wrapf(err, "notion: read page %d of %s", n+1, dbID)
		}
		all = append(all, resp.Results...)

		if !resp.HasMore {
			return all, nil
		}
		if resp.NextCursor == "" || resp.NextCursor == cursor {
			return nil, eris.Errorf("notion: database %s reported more results without a new cursor", dbID)
		}
		cursor = resp.NextCursor
	}
	return nil, eris.Errorf("notion: database %s exceeded %d result pages", dbID, maxPages)
}

// ActiveRules returns the rule pages marked Active, ordered by Priority.
func ActiveRules(ctx context.Context, c Client, dbID string) ([]notionapi.Page, error) {
	pages, err := Pages(ctx, c, dbID, Query{Status: StatusActive, SortBy: PropPriority})
	if err != nil {
		return nil, eris.Wrap(err, "notion: active rules")
	}
	return pages, nil
}
