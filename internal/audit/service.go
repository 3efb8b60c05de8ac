package audit

import (
	"context"
	"errors"
)

const (
	defaultPageSize = 20
	maxPageSize     = 50
	exportLimit     = 10000
)

var errNoRepository = errors.New("audit: repository not configured")

// Repository returns the records matching filters, skipping offset and
// returning at most limit.
type Repository interface {
	Window(ctx context.Context, filters TimelineFilters, offset, limit int) ([]Record, error)
}

// Service serves timeline pages and exports over a Repository.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline returns one page of records. One extra row is fetched to learn
// whether a next page exists.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, errNoRepository
	}
	page, size := pageBounds(filters.Page, filters.PageSize)
	rows, err := s.repo.Window(ctx, filters, (page-1)*size, size+1)
	if err != nil {
		return Result{}, err
	}

	paging := PagingInfo{Page: page, PageSize: size}
	if len(rows) > size {
		rows = rows[:size]
		paging.HasNext = true
		paging.NextPage = page + 1
	}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export returns every matching record, capped at exportLimit.
func (s *Service) Export(ctx context.Context, filters TimelineFilters) ([]Record, error) {
	if s.repo == nil {
		return nil, errNoRepository
	}
	return s.repo.Window(ctx, filters, 0, exportLimit)
}

func pageBounds(page, size int) (int, int) {
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}
	if page <= 0 {
		page = 1
	}
	return page, size
}
