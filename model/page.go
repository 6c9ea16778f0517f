package model

// PageInfo is the relay-style connection page information returned by the
// backend.
type PageInfo struct {
	HasNextPage     bool   `json:"hasNextPage"`
	HasPreviousPage bool   `json:"hasPreviousPage"`
	StartCursor     string `json:"startCursor"`
	EndCursor       string `json:"endCursor"`
}

// Page is one page of search results.
type Page[T any] struct {
	Items      []T      `json:"items"`
	PageInfo   PageInfo `json:"pageInfo"`
	TotalCount int      `json:"totalCount"`
}

// PageState is the client-side pagination state of a searcher. At most one
// of AfterCursor and BeforeCursor is set.
type PageState struct {
	Page         int    `json:"page"`
	PageSize     int    `json:"pageSize"`
	AfterCursor  string `json:"afterCursor,omitempty"`
	BeforeCursor string `json:"beforeCursor,omitempty"`
}
