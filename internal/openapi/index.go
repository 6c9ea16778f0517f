// Package openapi loads the BFF's own OpenAPI contract and validates JSON
// request bodies against it by operationId.
package openapi

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/pitabwire/portico/model"
)

//go:embed portico.yaml
var contract []byte

// IndexedOperation holds a resolved operation of the contract.
type IndexedOperation struct {
	OperationID  string
	Method       string
	PathTemplate string
	RequestBody  *openapi3.RequestBody
}

// Index is an in-memory index of the contract's operations keyed by
// operationId.
type Index struct {
	doc        *openapi3.T
	operations map[string]IndexedOperation
}

// Load parses and validates the embedded contract.
func Load() (*Index, error) {
	return LoadData(contract)
}

// LoadData parses and validates an OpenAPI document and indexes every
// operation that has an operationId.
func LoadData(data []byte) (*Index, error) {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("openapi: loading contract: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("openapi: validating contract: %w", err)
	}

	idx := &Index{doc: doc, operations: make(map[string]IndexedOperation)}
	for path, pathItem := range doc.Paths.Map() {
		for method, op := range pathItem.Operations() {
			if op.OperationID == "" {
				continue
			}
			var reqBody *openapi3.RequestBody
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				reqBody = op.RequestBody.Value
			}
			idx.operations[op.OperationID] = IndexedOperation{
				OperationID:  op.OperationID,
				Method:       method,
				PathTemplate: path,
				RequestBody:  reqBody,
			}
		}
	}
	return idx, nil
}

// Document returns the parsed contract.
func (idx *Index) Document() *openapi3.T { return idx.doc }

// GetOperation returns the indexed operation with the given operationId.
func (idx *Index) GetOperation(operationID string) (IndexedOperation, bool) {
	op, ok := idx.operations[operationID]
	return op, ok
}

// OperationIDs returns every indexed operationId, sorted.
func (idx *Index) OperationIDs() []string {
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ValidateRequest checks a decoded JSON body against the operation's
// request schema. It returns nil when the body is valid or the operation
// takes no JSON body.
func (idx *Index) ValidateRequest(operationID string, body any) []model.FieldError {
	op, ok := idx.operations[operationID]
	if !ok {
		return []model.FieldError{{Code: "unknown_operation", Message: fmt.Sprintf("operation %s not found", operationID)}}
	}
	if op.RequestBody == nil {
		return nil
	}
	ct := op.RequestBody.Content.Get("application/json")
	if ct == nil || ct.Schema == nil || ct.Schema.Value == nil {
		return nil
	}

	err := ct.Schema.Value.VisitJSON(body, openapi3.MultiErrors())
	if err == nil {
		return nil
	}
	return fieldErrors(err)
}

func fieldErrors(err error) []model.FieldError {
	var multi openapi3.MultiError
	if errors.As(err, &multi) {
		var out []model.FieldError
		for _, e := range multi {
			out = append(out, fieldErrors(e)...)
		}
		return out
	}

	var serr *openapi3.SchemaError
	if errors.As(err, &serr) {
		field := strings.Join(serr.JSONPointer(), ".")
		if serr.SchemaField == "required" && field == "" {
			field = requiredField(serr.Reason)
		}
		return []model.FieldError{{Field: field, Code: "schema_" + serr.SchemaField, Message: serr.Reason}}
	}
	return []model.FieldError{{Code: "schema", Message: err.Error()}}
}

// requiredField extracts the property name from a "property \"x\" is
// missing" reason.
func requiredField(reason string) string {
	start := strings.IndexByte(reason, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(reason[start+1:], '"')
	if end < 0 {
		return ""
	}
	return reason[start+1 : start+1+end]
}
