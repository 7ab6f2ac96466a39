package listing

import (
	"context"
	"fmt"
)

// PageFunc fetches a single page. Pages are numbered from 1.
type PageFunc[T any] func(ctx context.Context, page int) ([]T, error)

// PageResult summarizes one pagination pass.
type PageResult[T any] struct {
	Items []T
	Pages int
}

// Paginate calls fetch for page 1, 2, ... until a page comes back empty,
// maxPages is reached (0 means no limit) or the context is canceled.
// A fetch error stops pagination; the items collected so far are returned
// together with the error so callers can tell a short listing from a failed one.
func Paginate[T any](ctx context.Context, fetch PageFunc[T], maxPages int, onPage func(page, items int)) (PageResult[T], error) {
	var res PageResult[T]
	for page := 1; maxPages <= 0 || page <= maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		items, err := fetch(ctx, page)
		if err != nil {
			return res, fmt.Errorf("fetching page %d: %w", page, err)
		}
		if len(items) == 0 {
			return res, nil
		}
		res.Items = append(res.Items, items...)
		res.Pages++
		if onPage != nil {
			onPage(page, len(items))
		}
	}
	return res, nil
}
