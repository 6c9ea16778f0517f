package mutation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/model"
)

const mutationLogsEntity = "mutationLogs"

var logProjections = []string{
	"id",
	"status",
	"error",
	"clientMutationId",
	"clientMutationLabel",
	"clientMutationDetails",
	"requestDateTime",
}

// Action type triplets for mutation log queries.
var (
	FetchMutationTypes = model.NewActionTypes("CORE_FETCH_MUTATION")
	MutationLogsTypes  = model.NewActionTypes("CORE_MUTATION_LOGS")
)

// logNode is one mutationLogs node as the backend returns it.
type logNode struct {
	ID                    string  `json:"id"`
	Status                int     `json:"status"`
	Error                 *string `json:"error"`
	ClientMutationID      string  `json:"clientMutationId"`
	ClientMutationLabel   string  `json:"clientMutationLabel"`
	ClientMutationDetails *string `json:"clientMutationDetails"`
	RequestDateTime       string  `json:"requestDateTime"`
}

// record converts the node, parsing the error when the mutation failed.
func (n logNode) record() model.MutationRecord {
	rec := model.MutationRecord{
		ClientMutationID:    n.ClientMutationID,
		ClientMutationLabel: n.ClientMutationLabel,
		Status:              model.MutationStatus(n.Status),
		RequestDateTime:     graphql.ParseTime(n.RequestDateTime),
	}
	if n.Error != nil {
		rec.Error = *n.Error
	}
	if n.ClientMutationDetails != nil && *n.ClientMutationDetails != "" {
		var details []string
		if json.Unmarshal([]byte(*n.ClientMutationDetails), &details) == nil {
			rec.ClientMutationDetails = details
		}
	}
	if rec.Status == model.MutationError && rec.Error != "" {
		rec.ParseError()
	}
	return rec
}

// fetchLog runs one mutationLogs query filtered by client mutation id and
// returns the first edge, or nil when the backend has no entry yet.
func fetchLog(ctx context.Context, ex graphql.Executor, d model.Dispatcher, clientMutationID string) (*model.MutationRecord, error) {
	q := graphql.PageQuery{
		Entity:      mutationLogsEntity,
		Filters:     []string{graphql.StringArg("clientMutationId", clientMutationID)},
		Projections: logProjections,
	}
	page, err := graphql.FetchPage[logNode](ctx, ex, d, q, FetchMutationTypes, clientMutationID)
	if err != nil {
		return nil, err
	}
	if len(page.Items) == 0 {
		return nil, nil
	}
	rec := page.Items[0].record()
	if rec.ClientMutationID == "" {
		rec.ClientMutationID = clientMutationID
	}
	return &rec, nil
}

// FetchHistory lists the top-level mutation log entries, newest first. A
// first of zero or less leaves paging to the backend's default.
func FetchHistory(ctx context.Context, ex graphql.Executor, d model.Dispatcher, first int) ([]model.MutationRecord, error) {
	filters := []string{
		"parent_Isnull: true",
		graphql.OrderByArg("-request_date_time"),
	}
	if first > 0 {
		filters = append(filters, fmt.Sprintf("first: %d", first))
	}
	q := graphql.PageQuery{
		Entity:      mutationLogsEntity,
		Filters:     filters,
		Projections: logProjections,
	}
	page, err := graphql.FetchPage[logNode](ctx, ex, d, q, MutationLogsTypes, nil)
	if err != nil {
		return nil, err
	}
	records := make([]model.MutationRecord, 0, len(page.Items))
	for _, n := range page.Items {
		records = append(records, n.record())
	}
	return records, nil
}
