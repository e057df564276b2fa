package models

type PaginationResult[T any] struct {
	Items           []T
	TotalItems      int
	Page            int
	PageSize        int
	TotalPages      int
	HasNextPage     bool
	HasPreviousPage bool
}
