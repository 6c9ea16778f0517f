package graphql

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pitabwire/portico/model"
)

// Connection is the relay-style page shape the backend returns for every
// paginated entity.
type Connection[T any] struct {
	TotalCount *int           `json:"totalCount"`
	PageInfo   model.PageInfo `json:"pageInfo"`
	Edges      []struct {
		Node T `json:"node"`
	} `json:"edges"`
}

// Page flattens the connection's edges into a model.Page.
func (c Connection[T]) Page() model.Page[T] {
	p := model.Page[T]{
		Items:    make([]T, 0, len(c.Edges)),
		PageInfo: c.PageInfo,
	}
	for _, e := range c.Edges {
		p.Items = append(p.Items, e.Node)
	}
	if c.TotalCount != nil {
		p.TotalCount = *c.TotalCount
	} else {
		p.TotalCount = -1
	}
	return p
}

// DecodeConnection extracts the connection under entity from a response's
// data.
func DecodeConnection[T any](resp *Response, entity string) (model.Page[T], error) {
	var envelope map[string]json.RawMessage
	if err := resp.Decode(&envelope); err != nil {
		return model.Page[T]{}, err
	}
	raw, ok := envelope[entity]
	if !ok {
		return model.Page[T]{}, fmt.Errorf("graphql: response has no %q field", entity)
	}
	var conn Connection[T]
	if err := json.Unmarshal(raw, &conn); err != nil {
		return model.Page[T]{}, fmt.Errorf("graphql: decode %s connection: %w", entity, err)
	}
	return conn.Page(), nil
}

// PageQuery describes one paginated fetch.
type PageQuery struct {
	Entity      string
	Filters     []string
	Projections []string
	WithCount   bool
}

// Document renders the query document.
func (q PageQuery) Document() string {
	if q.WithCount {
		return FormatPageQueryWithCount(q.Entity, q.Filters, q.Projections)
	}
	return FormatPageQuery(q.Entity, q.Filters, q.Projections)
}

// FetchPage executes q and decodes the resulting connection. Without
// WithCount the page's TotalCount is -1.
func FetchPage[T any](ctx context.Context, ex Executor, d model.Dispatcher, q PageQuery, types model.ActionTypes, meta any) (model.Page[T], error) {
	resp, err := ex.Execute(ctx, d, Request{Query: q.Document()}, types, meta)
	if err != nil {
		return model.Page[T]{}, err
	}
	return DecodeConnection[T](resp, q.Entity)
}
