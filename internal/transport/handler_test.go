package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pitabwire/portico/internal/auth"
	"github.com/pitabwire/portico/internal/config"
	"github.com/pitabwire/portico/internal/definition"
	"github.com/pitabwire/portico/internal/export"
	"github.com/pitabwire/portico/internal/graphql"
	"github.com/pitabwire/portico/internal/mutation"
	"github.com/pitabwire/portico/internal/openapi"
	"github.com/pitabwire/portico/internal/role"
	"github.com/pitabwire/portico/internal/searcher"
	"github.com/pitabwire/portico/internal/settings"
	"github.com/pitabwire/portico/internal/store"
	"github.com/pitabwire/portico/internal/testutil"
	"github.com/pitabwire/portico/model"
)

// --- Test helpers ---

const testSubject = "user-1"

// staticRights grants a fixed right set to every subject.
type staticRights struct {
	rights      model.RightSet
	invalidated []string
}

func (s *staticRights) Resolve(context.Context, *model.RequestContext) (model.RightSet, error) {
	return s.rights, nil
}

func (s *staticRights) Invalidate(subjectID string) {
	s.invalidated = append(s.invalidated, subjectID)
}

type testEnv struct {
	backend  *testutil.Backend
	router   chi.Router
	rights   *staticRights
	stores   *store.Registry
	journal  *mutation.MemoryJournalStore
	settings *settings.MemoryRepository
}

func noSleep(context.Context, time.Duration) error { return nil }

func claimsSearcher() model.SearcherDefinition {
	return model.SearcherDefinition{
		ID:              "claim.claims",
		Entity:          "claims",
		Projections:     []string{"id", "code"},
		WithCount:       true,
		DefaultPageSize: 10,
		Rights:          []int{111001},
	}
}

// newTestEnv wires the router to a scripted backend the way cmd/bff does,
// with every request authenticated as testSubject.
func newTestEnv(t *testing.T, rights ...int) *testEnv {
	t.Helper()

	backend := testutil.NewBackend(t)
	cfg := config.Defaults()
	cfg.Backend.APIURL = backend.APIURL()
	cfg.Backend.Timeout = 2 * time.Second
	cfg.Server.HandlerTimeout = 5 * time.Second

	client := graphql.NewClient(cfg.Backend)
	tracker := mutation.NewTracker(client, config.MutationConfig{}, mutation.WithSleep(noSleep))
	journal := mutation.NewMemoryJournalStore()
	submitter := mutation.NewSubmitter(client, tracker, journal)
	catalog := role.NewCatalog(client, config.PermissionsConfig{}, nil)
	repo := settings.NewMemoryRepository()
	contract, err := openapi.Load()
	if err != nil {
		t.Fatalf("openapi.Load() error = %v", err)
	}

	env := &testEnv{
		backend:  backend,
		rights:   &staticRights{rights: model.NewRightSet(rights...)},
		stores:   store.NewRegistry(0, nil),
		journal:  journal,
		settings: repo,
	}
	env.router = NewRouter(Dependencies{
		Config:       cfg,
		Authenticate: fakeAuth(map[string]any{"sub": testSubject, "username": "admin"}),
		Rights:       env.rights,
		Definitions: definition.NewRegistry([]model.DefinitionFile{{
			Module:    "claim",
			Searchers: []model.SearcherDefinition{claimsSearcher()},
		}}),
		Backend:   client,
		Stores:      env.stores,
		FilterCache: searcher.NewMemoryFilterCache(0),
		Roles:       role.NewService(client, submitter, catalog, nil),
		Auth:        auth.NewService(client, nil),
		Exports:     export.NewService(client),
		Settings:    repo,
		Journal:     journal,
		Submitter:   submitter,
		Contract:    contract,
	})
	return env
}

func (e *testEnv) do(method, path string, body any) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		raw, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	decode(t, w, &body)
	return body.Error.Code
}

func catalogData() map[string]any {
	return map[string]any{"modulesPermissions": map[string]any{"modulePermsList": []any{
		map[string]any{"moduleName": "core", "permissions": []any{
			map[string]any{"permsName": "gql_query_roles_perms", "permsValue": 122001},
			map[string]any{"permsName": "gql_mutation_create_roles_perms", "permsValue": 122002},
		}},
	}}}
}

func roleNode(uuid, name string, rights ...int) map[string]any {
	rr := make([]any, 0, len(rights))
	for _, r := range rights {
		rr = append(rr, map[string]any{"rightId": r})
	}
	return map[string]any{
		"id":           "Um9sZTox",
		"uuid":         uuid,
		"name":         name,
		"altLanguage":  nil,
		"isSystem":     false,
		"isBlocked":    false,
		"validityFrom": "2026-01-01T00:00:00",
		"validityTo":   nil,
		"roleRights":   rr,
	}
}

func rolePage(nodes ...map[string]any) map[string]any {
	edges := make([]any, 0, len(nodes))
	for _, n := range nodes {
		edges = append(edges, map[string]any{"node": n})
	}
	return map[string]any{"role": map[string]any{
		"totalCount": len(nodes),
		"pageInfo":   map[string]any{"hasNextPage": false},
		"edges":      edges,
	}}
}

// --- Searchers ---

func TestSearch_fetchesPage(t *testing.T) {
	env := newTestEnv(t, 111001)
	env.backend.OnGraphQL("claims").RespondData(map[string]any{"claims": map[string]any{
		"totalCount": 1,
		"pageInfo":   map[string]any{"hasNextPage": false},
		"edges":      []any{map[string]any{"node": map[string]any{"id": "1", "code": "C1"}}},
	}})

	q := url.Values{}
	q.Set("filter[code]", `code_Icontains: "C"`)
	q.Set("page_size", "20")
	w := env.do("GET", "/ui/searchers/claim.claims?"+q.Encode(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp searchResponse[map[string]any]
	decode(t, w, &resp)
	if len(resp.Items) != 1 || resp.Items[0]["code"] != "C1" {
		t.Errorf("items = %v", resp.Items)
	}
	if resp.TotalCount != 1 {
		t.Errorf("totalCount = %d, want 1", resp.TotalCount)
	}
	if _, ok := resp.State.Filters["code"]; !ok {
		t.Errorf("state filters = %v, want code", resp.State.Filters)
	}

	doc := env.backend.LastRequest("claims").Document
	for _, want := range []string{`code_Icontains: "C"`, "first: 20", "totalCount"} {
		if !strings.Contains(doc, want) {
			t.Errorf("document %q missing %q", doc, want)
		}
	}
	if got := env.backend.LastRequest("claims").Headers.Get("Authorization"); got != "Bearer backend-token" {
		t.Errorf("Authorization = %q, want the forwarded token", got)
	}
}

func TestListSearchers(t *testing.T) {
	tests := []struct {
		name   string
		rights []int
		want   int
	}{
		{"with right", []int{111001}, 1},
		{"without right", nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.rights...)
			w := env.do("GET", "/ui/searchers", nil)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			var body struct {
				Searchers []searcherSummary `json:"searchers"`
			}
			decode(t, w, &body)
			if len(body.Searchers) != tt.want {
				t.Fatalf("searchers = %+v, want %d", body.Searchers, tt.want)
			}
			if tt.want == 1 && (body.Searchers[0].ID != "claim.claims" || !body.Searchers[0].WithCount) {
				t.Errorf("searcher = %+v", body.Searchers[0])
			}
		})
	}
}

func TestSearch_unknownSearcher(t *testing.T) {
	env := newTestEnv(t, 111001)
	w := env.do("GET", "/ui/searchers/nope", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestSearch_forbiddenWithoutRight(t *testing.T) {
	env := newTestEnv(t)
	w := env.do("GET", "/ui/searchers/claim.claims", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
	env.backend.AssertCalled(t, "claims", 0)
}

func TestSearch_rejectsMalformedFragment(t *testing.T) {
	env := newTestEnv(t, 111001)
	q := url.Values{}
	q.Set("filter[code]", `code: "x") { id } other(`)
	w := env.do("GET", "/ui/searchers/claim.claims?"+q.Encode(), nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	if code := errorCode(t, w); code != model.ErrValidationError {
		t.Errorf("code = %q", code)
	}
	env.backend.AssertCalled(t, "claims", 0)
}

func TestParseSearchQuery(t *testing.T) {
	q, err := parseSearchQuery(url.Values{
		"filter[name]": {`name_Icontains: "adm"`},
		"filter[blk]":  {""},
		"page_size":    {"50"},
		"after":        {"YXJyYXk6OQ=="},
		"order_by":     {"-name"},
	})
	if err != nil {
		t.Fatalf("parseSearchQuery() error = %v", err)
	}
	if len(q.Filters) != 1 || q.Filters["name"].Filter != `name_Icontains: "adm"` {
		t.Errorf("Filters = %v", q.Filters)
	}
	if q.PageSize != 50 || q.After != "YXJyYXk6OQ==" || q.OrderBy != "-name" {
		t.Errorf("query = %+v", q)
	}

	q, _ = parseSearchQuery(url.Values{})
	if q.Filters != nil {
		t.Errorf("Filters = %v, want nil without filter params", q.Filters)
	}
	q, _ = parseSearchQuery(url.Values{"reset": {"true"}})
	if !q.Reset || q.Filters != nil {
		t.Errorf("query = %+v, want Reset with nil Filters", q)
	}
	q, _ = parseSearchQuery(url.Values{"reset": {"true"}, "filter[name]": {`name: "a"`}})
	if q.Reset {
		t.Error("explicit filters take precedence over reset")
	}
	if _, err := parseSearchQuery(url.Values{"page_size": {"ten"}}); err == nil {
		t.Error("non-numeric page_size should fail")
	}
	if _, err := parseSearchQuery(url.Values{"filter[]": {"x: 1"}}); err == nil {
		t.Error("empty filter id should fail")
	}
}

func TestCheckFragment(t *testing.T) {
	valid := []string{
		`name_Icontains: "adm"`,
		`rights: [1, 2]`,
		`name: "a (b) {c}"`,
		`name: "quote \" inside"`,
	}
	for _, f := range valid {
		if err := checkFragment(f); err != nil {
			t.Errorf("checkFragment(%q) = %v, want nil", f, err)
		}
	}
	invalid := []string{
		`name: "x") { id }`,
		`rights: [1, 2`,
		`rights: 1]`,
		`name: "open`,
	}
	for _, f := range invalid {
		if err := checkFragment(f); err == nil {
			t.Errorf("checkFragment(%q) = nil, want error", f)
		}
	}
}

// --- Roles ---

func TestListRoles(t *testing.T) {
	env := newTestEnv(t, model.RightRoleSearch)
	env.backend.OnGraphQL("role").RespondData(rolePage(
		roleNode("r-1", "Admin", 122001),
		roleNode("r-2", "Clerk"),
	))

	w := env.do("GET", "/ui/roles", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp searchResponse[model.Role]
	decode(t, w, &resp)
	if len(resp.Items) != 2 || resp.Items[0].Name != "Admin" {
		t.Errorf("items = %+v", resp.Items)
	}

	doc := env.backend.LastRequest("role").Document
	if !strings.Contains(doc, "isSystem: false") {
		t.Errorf("document %q should carry the default isSystem filter", doc)
	}
}

func TestListRoles_resetRestoresDefaults(t *testing.T) {
	env := newTestEnv(t, model.RightRoleSearch)
	env.backend.OnGraphQL("role").RespondData(rolePage(roleNode("r-1", "Admin")))

	q := url.Values{}
	q.Set("filter[name]", `name_Icontains: "adm"`)
	q.Set("order_by", "-name")
	if w := env.do("GET", "/ui/roles?"+q.Encode(), nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if doc := env.backend.LastRequest("role").Document; strings.Contains(doc, "isSystem: false") {
		t.Fatalf("document %q should carry only the explicit filter", doc)
	}

	for _, path := range []string{"/ui/roles?reset=true", "/ui/roles"} {
		w := env.do("GET", path, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s: status = %d, body = %s", path, w.Code, w.Body.String())
		}
		doc := env.backend.LastRequest("role").Document
		if !strings.Contains(doc, "isSystem: false") {
			t.Errorf("%s: document %q should carry the default isSystem filter", path, doc)
		}
		if strings.Contains(doc, "name_Icontains") {
			t.Errorf("%s: document %q still carries the cached filter", path, doc)
		}
	}
	if doc := env.backend.LastRequest("role").Document; !strings.Contains(doc, `orderBy: ["name"]`) {
		t.Errorf("document %q should use the default ordering", doc)
	}
}

func TestListRoles_forbidden(t *testing.T) {
	env := newTestEnv(t)
	w := env.do("GET", "/ui/roles", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

func TestGetRole(t *testing.T) {
	env := newTestEnv(t, model.RightRoleSearch, model.RightRoleUpdate)
	env.backend.OnGraphQL("role").RespondData(rolePage(roleNode("r-1", "Admin", 122001)))
	env.backend.OnGraphQL("modulesPermissions").RespondData(catalogData())

	w := env.do("GET", "/ui/roles/r-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp roleResponse
	decode(t, w, &resp)
	if resp.Role.UUID != "r-1" || resp.Phase != "editing" {
		t.Errorf("role = %+v, phase = %q", resp.Role, resp.Phase)
	}
	if len(resp.Catalog) != 1 {
		t.Errorf("catalog = %+v", resp.Catalog)
	}
	if !resp.Operations["update"] || resp.Operations["delete"] {
		t.Errorf("operations = %v", resp.Operations)
	}
}

func TestGetRole_notFound(t *testing.T) {
	env := newTestEnv(t, model.RightRoleSearch)
	env.backend.OnGraphQL("role").RespondData(rolePage())
	env.backend.OnGraphQL("modulesPermissions").RespondData(catalogData())

	w := env.do("GET", "/ui/roles/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestDuplicateRole(t *testing.T) {
	env := newTestEnv(t, model.RightRoleDuplicate)
	env.backend.OnGraphQL("role").RespondData(rolePage(roleNode("r-1", "Admin", 122001)))
	env.backend.OnGraphQL("modulesPermissions").RespondData(catalogData())

	w := env.do("GET", "/ui/roles/r-1/duplicate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp roleResponse
	decode(t, w, &resp)
	if resp.Role.UUID != "" || resp.Role.Name != "" || resp.Phase != "new" {
		t.Errorf("duplicate = %+v, phase = %q", resp.Role, resp.Phase)
	}
	if len(resp.Role.RoleRights) != 1 || resp.Role.RoleRights[0] != 122001 {
		t.Errorf("rights = %v", resp.Role.RoleRights)
	}
}

func TestCreateRole(t *testing.T) {
	env := newTestEnv(t, model.RightRoleCreate)
	env.backend.OnGraphQL("modulesPermissions").RespondData(catalogData())
	env.backend.OnGraphQL("createRole").RespondFunc(testutil.MutationAccepted("createRole"))
	env.backend.OnGraphQL("mutationLogs").RespondFunc(testutil.MutationLog(2, ""))

	w := env.do("POST", "/ui/roles", map[string]any{
		"uuid":       "ignored",
		"name":       "Auditor",
		"roleRights": []int{122001},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp outcomeResponse
	decode(t, w, &resp)
	if resp.Status != "succeeded" || resp.Mutation.ClientMutationID == "" {
		t.Errorf("outcome = %+v", resp)
	}

	doc := env.backend.LastRequest("createRole").Document
	if strings.Contains(doc, "ignored") {
		t.Errorf("create document should not carry a uuid: %q", doc)
	}

	rec, err := env.journal.Get(context.Background(), testSubject, resp.Mutation.ClientMutationID)
	if err != nil {
		t.Fatalf("journal Get() error = %v", err)
	}
	if rec.Status != model.MutationSucceeded {
		t.Errorf("journal status = %v", rec.Status)
	}
}

func TestCreateRole_validation(t *testing.T) {
	env := newTestEnv(t, model.RightRoleCreate)
	env.backend.OnGraphQL("modulesPermissions").RespondData(catalogData())

	w := env.do("POST", "/ui/roles", map[string]any{"name": "", "roleRights": []int{999}})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	env.backend.AssertCalled(t, "createRole", 0)
}

func TestCreateRole_schemaViolation(t *testing.T) {
	env := newTestEnv(t, model.RightRoleCreate)

	w := env.do("POST", "/ui/roles", map[string]any{"name": "Clerk", "roleRights": []string{"x"}})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", w.Code)
	}
	var body struct {
		Error model.ErrorEnvelope `json:"error"`
	}
	decode(t, w, &body)
	if len(body.Error.Details) == 0 || body.Error.Details[0].Field != "roleRights.0" {
		t.Errorf("details = %+v, want a roleRights.0 error", body.Error.Details)
	}
	env.backend.AssertCalled(t, "createRole", 0)
}

func TestContractDocument(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("GET", "/ui/openapi.json", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"operationId":"createRole"`) {
		t.Error("contract document does not describe createRole")
	}
}

func TestCreateRole_invalidJSON(t *testing.T) {
	env := newTestEnv(t, model.RightRoleCreate)
	req := httptest.NewRequest("POST", "/ui/roles", strings.NewReader("{"))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUpdateRole_throughConfirmation(t *testing.T) {
	env := newTestEnv(t, model.RightRoleSearch, model.RightRoleUpdate)
	env.backend.OnGraphQL("role").RespondData(rolePage(roleNode("r-1", "Admin", 122001)))
	env.backend.OnGraphQL("modulesPermissions").RespondData(catalogData())
	env.backend.OnGraphQL("updateRole").RespondFunc(testutil.MutationAccepted("updateRole"))
	env.backend.OnGraphQL("mutationLogs").RespondFunc(testutil.MutationLog(2, ""))

	w := env.do("PUT", "/ui/roles/r-1", map[string]any{
		"name":       "Administrator",
		"roleRights": []int{122001, 122002},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var pending confirmationResponse
	decode(t, w, &pending)
	if pending.Confirmation.ID == "" {
		t.Fatal("confirmation id should be set")
	}
	env.backend.AssertCalled(t, "updateRole", 0)

	w = env.do("POST", "/ui/confirmations/"+pending.Confirmation.ID, map[string]any{"confirmed": true})
	if w.Code != http.StatusOK {
		t.Fatalf("confirm status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp outcomeResponse
	decode(t, w, &resp)
	if resp.Status != "succeeded" {
		t.Errorf("outcome = %+v", resp)
	}
	env.backend.AssertCalled(t, "updateRole", 1)
	doc := env.backend.LastRequest("updateRole").Document
	if !strings.Contains(doc, `uuid: "r-1"`) || !strings.Contains(doc, `name: "Administrator"`) {
		t.Errorf("update document = %q", doc)
	}
	if len(env.rights.invalidated) != 1 || env.rights.invalidated[0] != testSubject {
		t.Errorf("invalidated = %v, want rights dropped after a saved change", env.rights.invalidated)
	}

	w = env.do("POST", "/ui/confirmations/"+pending.Confirmation.ID, map[string]any{"confirmed": true})
	if w.Code != http.StatusNotFound {
		t.Errorf("second confirm status = %d, want 404", w.Code)
	}
}

func TestDeleteRole_declined(t *testing.T) {
	env := newTestEnv(t, model.RightRoleSearch, model.RightRoleDelete)
	env.backend.OnGraphQL("role").RespondData(rolePage(roleNode("r-1", "Admin")))
	env.backend.OnGraphQL("modulesPermissions").RespondData(catalogData())

	w := env.do("DELETE", "/ui/roles/r-1", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var pending confirmationResponse
	decode(t, w, &pending)

	w = env.do("POST", "/ui/confirmations/"+pending.Confirmation.ID, map[string]any{"confirmed": false})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	decode(t, w, &body)
	if body["confirmed"] != false {
		t.Errorf("body = %v", body)
	}
	env.backend.AssertCalled(t, "deleteRole", 0)
}

func TestBulkDeleteRoles(t *testing.T) {
	env := newTestEnv(t, model.RightRoleDelete)
	env.backend.OnGraphQL("role").RespondData(rolePage(roleNode("r-1", "Clerk")))
	env.backend.OnGraphQL("deleteRole").RespondFunc(testutil.MutationAccepted("deleteRole"))
	env.backend.OnGraphQL("mutationLogs").RespondFunc(testutil.MutationLog(2, ""))

	if w := env.do("POST", "/ui/roles/bulk-delete", map[string]any{"uuids": []string{}}); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty uuids status = %d, want 422", w.Code)
	}

	w := env.do("POST", "/ui/roles/bulk-delete", map[string]any{"uuids": []string{"r-1"}})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var pending confirmationResponse
	decode(t, w, &pending)

	w = env.do("POST", "/ui/confirmations/"+pending.Confirmation.ID, map[string]any{"confirmed": true})
	if w.Code != http.StatusOK {
		t.Fatalf("confirm status = %d, body = %s", w.Code, w.Body.String())
	}
	var body struct {
		Result []role.BulkResult `json:"result"`
	}
	decode(t, w, &body)
	if len(body.Result) != 1 || body.Result[0].Status != "succeeded" {
		t.Errorf("result = %+v", body.Result)
	}
	env.backend.AssertCalled(t, "deleteRole", 1)
}

func TestConfirm_requiresAnswer(t *testing.T) {
	env := newTestEnv(t)
	w := env.do("POST", "/ui/confirmations/c-1", map[string]any{})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}

	w = env.do("POST", "/ui/confirmations/c-1", map[string]any{"confirmed": true})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for an unknown confirmation", w.Code)
	}
}

// --- Rights, journal, exports, settings, alerts ---

func TestRights(t *testing.T) {
	env := newTestEnv(t, model.RightRoleUpdate, model.RightRoleSearch)
	w := env.do("GET", "/ui/rights", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Rights     []int           `json:"rights"`
		Operations map[string]bool `json:"operations"`
	}
	decode(t, w, &body)
	if len(body.Rights) != 2 || body.Rights[0] > body.Rights[1] {
		t.Errorf("rights = %v, want two sorted ids", body.Rights)
	}
	if !body.Operations["update"] {
		t.Errorf("operations = %v", body.Operations)
	}
}

func TestJournal(t *testing.T) {
	env := newTestEnv(t, model.RightRoleCreate)
	env.backend.OnGraphQL("modulesPermissions").RespondData(catalogData())
	env.backend.OnGraphQL("createRole").RespondFunc(testutil.MutationAccepted("createRole"))
	env.backend.OnGraphQL("mutationLogs").RespondFunc(testutil.MutationLog(1, "name taken"))

	w := env.do("POST", "/ui/roles", map[string]any{"name": "Auditor", "roleRights": []int{122001}})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}

	w = env.do("GET", "/ui/journal?status=error", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var list struct {
		Items []model.MutationRecord `json:"items"`
	}
	decode(t, w, &list)
	if len(list.Items) != 1 || list.Items[0].Status != model.MutationError {
		t.Fatalf("items = %+v", list.Items)
	}

	id := list.Items[0].ClientMutationID
	w = env.do("GET", "/ui/journal/"+id, nil)
	if w.Code != http.StatusOK {
		t.Errorf("entry status = %d", w.Code)
	}

	if w := env.do("GET", "/ui/journal/unknown", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown entry status = %d, want 404", w.Code)
	}
	if w := env.do("GET", "/ui/journal?status=bogus", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bogus status filter = %d, want 400", w.Code)
	}
}

func TestDownloadExport(t *testing.T) {
	env := newTestEnv(t)
	env.backend.OnREST("GET", "/core/fetch_export").RespondRaw(http.StatusOK, "text/csv", []byte("name\nAdmin\n"))

	w := env.do("GET", "/ui/exports/roles", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Content-Disposition"); got != "attachment; filename=roles.csv" {
		t.Errorf("Content-Disposition = %q", got)
	}
	if w.Body.String() != "name\nAdmin\n" {
		t.Errorf("body = %q", w.Body.String())
	}
	if got := env.backend.LastRequest("GET /core/fetch_export").Query["export"]; got != "roles" {
		t.Errorf("export query = %q", got)
	}
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t)
	path := "/ui/settings/" + settings.KeySecondaryCalendar

	if w := env.do("GET", path, nil); w.Code != http.StatusNotFound {
		t.Errorf("unset status = %d, want 404", w.Code)
	}
	if w := env.do("PUT", path, map[string]any{"value": "yes"}); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("non-boolean status = %d, want 422", w.Code)
	}
	if w := env.do("PUT", path, map[string]any{"value": true}); w.Code != http.StatusOK {
		t.Fatalf("put status = %d", w.Code)
	}

	w := env.do("GET", path, nil)
	var got settingResponse
	decode(t, w, &got)
	if string(got.Value) != "true" {
		t.Errorf("value = %s, want true", got.Value)
	}
	enabled, _ := settings.IsSecondaryCalendarEnabled(context.Background(), env.settings, testSubject)
	if !enabled {
		t.Error("setting should be stored under the authenticated subject")
	}

	if w := env.do("DELETE", path, nil); w.Code != http.StatusNoContent {
		t.Errorf("delete status = %d", w.Code)
	}
	if w := env.do("GET", path, nil); w.Code != http.StatusNotFound {
		t.Errorf("after delete status = %d, want 404", w.Code)
	}
}

func TestDrainAlert(t *testing.T) {
	env := newTestEnv(t, model.RightRoleSearch)
	env.backend.OnGraphQL("role").RespondStatus(http.StatusInternalServerError, map[string]any{"detail": "boom"})

	if w := env.do("GET", "/ui/roles", nil); w.Code < 500 {
		t.Fatalf("list status = %d, want a backend failure", w.Code)
	}

	w := env.do("GET", "/ui/alerts", nil)
	var body struct {
		Alert *model.ServiceError `json:"alert"`
	}
	decode(t, w, &body)
	if body.Alert == nil {
		t.Fatal("alert should be set after a backend failure")
	}

	w = env.do("GET", "/ui/alerts", nil)
	body.Alert = nil
	decode(t, w, &body)
	if body.Alert != nil {
		t.Errorf("alert = %+v, want drained", body.Alert)
	}
}

// --- Auth ---

func TestLogin_relaysCookies(t *testing.T) {
	env := newTestEnv(t)
	env.backend.OnGraphQL("tokenAuth").RespondWithCookies(
		map[string]any{"tokenAuth": map[string]any{"token": "tok-1", "refreshExpiresIn": 3600}},
		&http.Cookie{Name: "JWT", Value: "tok-1", Path: "/"},
	)
	env.backend.OnREST("GET", "/core/users/current_user/").RespondStatus(http.StatusOK, map[string]any{
		"id": "1", "username": "admin", "rights": []int{122001},
	})

	req := httptest.NewRequest("POST", "/auth/login", strings.NewReader(`{"username":"admin","password":"secret"}`))
	req.AddCookie(&http.Cookie{Name: auth.CSRFCookie, Value: "csrf-1"})
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), "JWT=tok-1") {
		t.Errorf("Set-Cookie = %q, want the backend session cookie", w.Header().Get("Set-Cookie"))
	}
	var sess auth.Session
	decode(t, w, &sess)
	if sess.Token != "tok-1" || sess.User == nil || sess.User.Username != "admin" {
		t.Errorf("session = %+v", sess)
	}
	if got := env.backend.LastRequest("tokenAuth").Headers.Get(auth.CSRFHeader); got != "csrf-1" {
		t.Errorf("CSRF header = %q, want csrf-1", got)
	}
	if got := env.backend.LastRequest("GET /core/users/current_user/").Headers.Get("Authorization"); got != "Bearer tok-1" {
		t.Errorf("current user Authorization = %q", got)
	}
}

func TestLogin_missingCredentials(t *testing.T) {
	env := newTestEnv(t)
	w := env.do("POST", "/auth/login", map[string]any{"username": "admin"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
	env.backend.AssertCalled(t, "tokenAuth", 0)
}

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	env.backend.OnREST("GET", "/core/users/current_user/").RespondStatus(http.StatusOK, map[string]any{
		"id": "1", "username": "admin",
	})

	w := env.do("GET", "/auth/me", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var user model.User
	decode(t, w, &user)
	if user.Username != "admin" {
		t.Errorf("user = %+v", user)
	}
}

func TestLogout_dropsSession(t *testing.T) {
	env := newTestEnv(t)
	env.backend.OnGraphQL("deleteTokenCookie").RespondWithCookies(
		map[string]any{"deleteTokenCookie": map[string]any{"deleted": true}},
		&http.Cookie{Name: "JWT", Value: "", MaxAge: -1},
	)

	env.stores.For(testSubject)
	w := env.do("POST", "/auth/logout", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Header().Get("Set-Cookie"), "JWT=") {
		t.Errorf("Set-Cookie = %q, want the cleared cookie relayed", w.Header().Get("Set-Cookie"))
	}
	if env.stores.Len() != 0 {
		t.Errorf("stores = %d, want the subject's store dropped", env.stores.Len())
	}
	if len(env.rights.invalidated) != 1 {
		t.Errorf("invalidated = %v", env.rights.invalidated)
	}
}
