// Package graphql builds GraphQL documents for the portal backend and
// executes them over HTTP.
package graphql

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const pageInfoFields = "pageInfo { hasNextPage, hasPreviousPage, startCursor, endCursor }"

var gqlEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`/`, `\/`,
	"\b", `\b`,
	"\f", `\f`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// FormatGQLString escapes s for embedding inside a double-quoted GraphQL
// string literal. All replacements happen in one pass, so a backslash
// introduced by one rule is never re-escaped by another. Escaping an already
// escaped string escapes it again.
func FormatGQLString(s string) string {
	return gqlEscaper.Replace(s)
}

// FormatJSONField marshals v to JSON and escapes the result for use as a
// GraphQL string argument.
func FormatJSONField(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("graphql: marshal json field: %w", err)
	}
	return FormatGQLString(string(b)), nil
}

// StringArg renders `name: "value"` with value escaped.
func StringArg(name, value string) string {
	return name + `: "` + FormatGQLString(value) + `"`
}

// OrderByArg renders the orderBy argument for a single ordering attribute,
// or "" when orderBy is empty.
func OrderByArg(orderBy string) string {
	if orderBy == "" {
		return ""
	}
	return `orderBy: ["` + FormatGQLString(orderBy) + `"]`
}

func entityWithArgs(entity string, filters []string) string {
	if len(filters) == 0 {
		return entity
	}
	return entity + "(" + strings.Join(filters, ", ") + ")"
}

// FormatPageQuery renders a cursor-paginated query over entity. filters are
// pre-rendered argument fragments; projections are the node fields.
func FormatPageQuery(entity string, filters, projections []string) string {
	return formatPage(entity, filters, projections, false)
}

// FormatPageQueryWithCount is FormatPageQuery with totalCount selected.
func FormatPageQueryWithCount(entity string, filters, projections []string) string {
	return formatPage(entity, filters, projections, true)
}

func formatPage(entity string, filters, projections []string, withCount bool) string {
	var b strings.Builder
	b.WriteString("{ ")
	b.WriteString(entityWithArgs(entity, filters))
	b.WriteString(" { ")
	if withCount {
		b.WriteString("totalCount ")
	}
	b.WriteString(pageInfoFields)
	b.WriteString(" edges { node { ")
	b.WriteString(strings.Join(projections, ", "))
	b.WriteString(" } } } }")
	return b.String()
}

// FormatQuery renders a non-paginated query over entity.
func FormatQuery(entity string, filters, projections []string) string {
	return "{ " + entityWithArgs(entity, filters) + " { " + strings.Join(projections, ", ") + " } }"
}

// Mutation is a rendered mutation document and the correlation id it was
// stamped with.
type Mutation struct {
	ClientMutationID    string
	ClientMutationLabel string
	Payload             string
}

// FormatMutation renders a mutation invoking operation with the given input
// fields. A fresh clientMutationId is generated for every call; label is
// escaped before embedding.
func FormatMutation(operation, input, label string) Mutation {
	return formatMutation(operation, input, label, "")
}

// FormatMutationWithDetails is FormatMutation with clientMutationDetails set
// to the JSON encoding of details.
func FormatMutationWithDetails(operation, input, label string, details []string) (Mutation, error) {
	encoded, err := FormatJSONField(details)
	if err != nil {
		return Mutation{}, err
	}
	return formatMutation(operation, input, label, `clientMutationDetails: "`+encoded+`"`), nil
}

func formatMutation(operation, input, label, extra string) Mutation {
	id := uuid.NewString()

	var b strings.Builder
	b.WriteString("mutation { ")
	b.WriteString(operation)
	b.WriteString("(input: { ")
	b.WriteString(StringArg("clientMutationId", id))
	b.WriteString(" ")
	b.WriteString(StringArg("clientMutationLabel", label))
	if extra != "" {
		b.WriteString(" ")
		b.WriteString(extra)
	}
	if input != "" {
		b.WriteString(" ")
		b.WriteString(input)
	}
	b.WriteString(" }) { clientMutationId internalId } }")

	return Mutation{
		ClientMutationID:    id,
		ClientMutationLabel: label,
		Payload:             b.String(),
	}
}
