// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/itemsvc/core"
	"github.com/relabs-tech/itemsvc/core/apispec"
	"github.com/relabs-tech/itemsvc/core/client"
	"github.com/relabs-tech/itemsvc/core/csql"
	"github.com/relabs-tech/itemsvc/core/metrics"
	"github.com/relabs-tech/itemsvc/core/model"
	"github.com/relabs-tech/itemsvc/core/source"
)

const itemModel = `
name: item
fields:
  - name: id
    type: integer
  - name: title
    type: string
    required: true
  - name: price
    type: number
  - name: active
    type: boolean
  - name: due
    type: date
`

type notification struct {
	resource  string
	operation core.Operation
	id        string
	payload   string
}

type recordingNotifier struct {
	mutex         sync.Mutex
	notifications []notification
	err           error
}

func (n *recordingNotifier) Notify(ctx context.Context, resource string, operation core.Operation, id string, payload []byte) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.notifications = append(n.notifications, notification{resource, operation, id, string(payload)})
	return n.err
}

type testService struct {
	backend  *Backend
	router   *mux.Router
	client   client.Client
	notifier *recordingNotifier
	metrics  *metrics.Metrics
}

// build generates the api description for m from base and builds a backend on db
func build(t *testing.T, base apispec.Document, m *model.Model, db *csql.DB) (*testService, error) {
	t.Helper()
	doc, err := apispec.Generate(base, m)
	require.NoError(t, err)
	ts := &testService{
		router:   mux.NewRouter(),
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
	}
	err = apispec.WithTempFile(doc, func(path string) error {
		var err error
		ts.backend, err = New(&Builder{
			Description: path,
			Model:       m,
			DB:          db,
			Router:      ts.router,
			Notifier:    ts.notifier,
			Metrics:     ts.metrics,
		})
		return err
	})
	ts.client = client.NewWithRouter(ts.router)
	return ts, err
}

func newTestService(t *testing.T, description string) *testService {
	t.Helper()
	dir := t.TempDir()
	db, err := csql.Open(csql.DriverSqlite, filepath.Join(dir, "items.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	path := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(path, []byte(description), 0o600))
	m, err := model.Create(context.Background(), db, path)
	require.NoError(t, err)
	ts, err := build(t, apispec.DefaultBase(), m, db)
	require.NoError(t, err)
	return ts
}

func TestItemLifecycle(t *testing.T) {
	ts := newTestService(t, itemModel)
	items := ts.client.Collection("item")

	var raw []byte
	_, err := items.List(&raw)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))

	status, err := items.Item(2).Upsert(map[string]interface{}{"title": "second", "price": 2.5, "active": true, "due": "2024-02-29"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	status, err = items.Item(1).Upsert(map[string]interface{}{"id": 1, "title": "first"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	_, err = items.Item(2).Read(&raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":2,"title":"second","price":2.5,"active":true,"due":"2024-02-29"}`, string(raw))

	// an update merges the body into the stored item
	status, err = items.Item(2).Upsert(map[string]interface{}{"title": "changed", "due": nil})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	_, err = items.Item(2).Read(&raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":2,"title":"changed","price":2.5,"active":true,"due":null}`, string(raw))

	_, err = items.List(&raw)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"id":1,"title":"first","price":null,"active":null,"due":null},
		{"id":2,"title":"changed","price":2.5,"active":true,"due":null}
	]`, string(raw))

	_, err = items.WithParameter("limit", "1").List(&raw)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1,"title":"first","price":null,"active":null,"due":null}]`, string(raw))
	_, err = items.WithParameter("limit", "0").List(&raw)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(raw))

	status, err = items.Item(2).Delete()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	status, _, body, err := ts.client.Do(http.MethodGet, "/items/2", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Empty(t, body)

	status, err = items.Item(2).Delete()
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, status)

	assert.Equal(t, []notification{
		{"items", core.OperationCreate, "2", `{"active":true,"due":"2024-02-29","id":2,"price":2.5,"title":"second"}`},
		{"items", core.OperationCreate, "1", `{"id":1,"title":"first"}`},
		{"items", core.OperationUpdate, "2", `{"active":true,"due":null,"id":2,"price":2.5,"title":"changed"}`},
		{"items", core.OperationDelete, "2", ""},
	}, ts.notifier.notifications)
	assert.Equal(t, 4.0, testutil.ToFloat64(ts.metrics.Notifications.WithLabelValues("ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(ts.metrics.Requests.WithLabelValues(apispec.OperationPut, "201"))+
		testutil.ToFloat64(ts.metrics.Requests.WithLabelValues(apispec.OperationPut, "200")))
}

func TestPutValidation(t *testing.T) {
	ts := newTestService(t, itemModel)

	invalid := []string{
		``,
		`not json`,
		`[]`,
		`{}`,
		`{"title": null}`,
		`{"title": "a", "unknown": 1}`,
		`{"title": "a", "price": "cheap"}`,
		`{"title": "a", "active": "yes"}`,
		`{"title": "a", "due": "tomorrow"}`,
		`{"title": "a", "id": 2}`,
		`{"title": "a", "id": "1"}`,
	}
	for _, body := range invalid {
		status, _, _, err := ts.client.Do(http.MethodPut, "/items/1", []byte(body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, status, body)
	}

	status, err := ts.client.RawPut("/items/1", []byte(`{"title": "a", "id": 1}`), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Len(t, ts.notifier.notifications, 1)
}

func TestIntegerRange(t *testing.T) {
	ts := newTestService(t, "name: item\nfields: [{name: id, type: integer}, {name: count, type: integer}]")

	for _, body := range []string{`{"count": 1e20}`, `{"count": 92233720368547758070}`, `{"count": -9223372036854775809}`} {
		status, _, _, err := ts.client.Do(http.MethodPut, "/items/1", []byte(body))
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, status, body)
	}

	_, err := ts.client.RawPut("/items/1", []byte(`{"count": 9223372036854775807}`), nil)
	require.NoError(t, err)
	_, err = ts.client.RawPut("/items/2", []byte(`{"count": -9223372036854775808}`), nil)
	require.NoError(t, err)
	var raw []byte
	_, err = ts.client.RawGet("/items", &raw)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1,"count":9223372036854775807},{"id":2,"count":-9223372036854775808}]`, string(raw))
}

// the service startup path: template file, generate, temporary description, dispatcher
func TestDescriptionFromTemplateFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	db, err := csql.Open(csql.DriverSqlite, filepath.Join(dir, "items.db"), "")
	require.NoError(t, err)
	defer db.Close()
	modelPath := filepath.Join(dir, "model.yaml")
	require.NoError(t, os.WriteFile(modelPath, []byte(itemModel), 0o600))
	templatePath := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(templatePath, []byte(`
openapi: 3.0.3
info:
  title: Shop
  version: "1.2"
components:
  parameters:
    limit:
      name: limit
      in: query
      schema:
        type: integer
        minimum: 0
        default: 2
`), 0o600))

	m, err := model.Create(ctx, db, modelPath)
	require.NoError(t, err)
	base, err := apispec.LoadBase(ctx, source.Reader{}, templatePath)
	require.NoError(t, err)
	description, err := apispec.Generate(base, m)
	require.NoError(t, err)

	router := mux.NewRouter()
	err = apispec.WithTempFile(description, func(path string) error {
		_, err := New(&Builder{Description: path, Model: m, DB: db, Router: router})
		return err
	})
	require.NoError(t, err)

	c := client.NewWithRouter(router)
	for i := 1; i <= 3; i++ {
		status, err := c.RawPut(fmt.Sprintf("/items/%d", i), map[string]interface{}{"title": "t"}, nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusCreated, status)
	}
	var list []map[string]interface{}
	_, err = c.Collection("item").List(&list)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	_, err = c.Collection("item").Item(3).Read(nil)
	require.NoError(t, err)
	_, err = c.Collection("item").Item(3).Delete()
	require.NoError(t, err)
}

func TestParameters(t *testing.T) {
	ts := newTestService(t, itemModel)

	for _, path := range []string{"/items/abc", "/items/1.5", "/items?limit=-1", "/items?limit=ten", "/items?other=1", "/items/1?limit=1"} {
		status, _, _, err := ts.client.Do(http.MethodGet, path, nil)
		require.NoError(t, err)
		assert.Equal(t, http.StatusBadRequest, status, path)
	}
	status, _, _, err := ts.client.Do(http.MethodDelete, "/items/abc", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestStringIdentifier(t *testing.T) {
	ts := newTestService(t, `
name: note
id: key
fields:
  - name: key
    type: string
  - name: body
    type: text
`)
	notes := ts.client.Collection("note")
	status, err := notes.Item("a b").Upsert(map[string]interface{}{"body": "hello"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	var note map[string]interface{}
	_, err = notes.Item("a b").Read(&note)
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"key": "a b", "body": "hello"}, note)
	assert.Equal(t, "a b", ts.notifier.notifications[0].id)
}

func TestNotificationFailureKeepsChange(t *testing.T) {
	ts := newTestService(t, itemModel)
	ts.notifier.err = errors.New("broker down")

	status, err := ts.client.RawPut("/items/1", map[string]interface{}{"title": "a"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	_, err = ts.client.Collection("item").Item(1).Read(nil)
	assert.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(ts.metrics.Notifications.WithLabelValues("error")))
}

func TestAdditionalRoutes(t *testing.T) {
	ts := newTestService(t, itemModel)

	var version struct {
		Version string `json:"version"`
	}
	_, err := ts.client.RawGet("/version", &version)
	require.NoError(t, err)
	assert.Equal(t, Version, version.Version)

	var raw []byte
	_, err = ts.client.RawGet("/openapi.yaml", &raw)
	require.NoError(t, err)
	doc, err := apispec.Parse(raw)
	require.NoError(t, err)
	assert.Contains(t, doc["paths"], "/items/{id}")
	assert.Equal(t, ts.backend.Description(), raw)

	_, err = ts.client.RawGet("/items", nil)
	require.NoError(t, err)
	_, err = ts.client.RawGet("/metrics", &raw)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `itemsvc_requests_total{code="200",operation="listItems"} 1`)
}

func TestMiddlewares(t *testing.T) {
	ts := newTestService(t, itemModel)

	status, header, _, err := ts.client.Do(http.MethodOptions, "/items/1", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)
	assert.Equal(t, "*", header.Get("Access-Control-Allow-Origin"))

	status, header, _, err = ts.client.WithHeader("X-Request-Id", "req-42").Do(http.MethodGet, "/items", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "req-42", header.Get("X-Request-Id"))

	status, header, body, err := ts.client.WithHeader("Accept-Encoding", "gzip").Do(http.MethodGet, "/items", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "gzip", header.Get("Content-Encoding"))
	assert.NotEqual(t, "[]", string(body))
}

func TestUnknownOperation(t *testing.T) {
	m, err := model.Parse([]byte(itemModel))
	require.NoError(t, err)
	base, err := apispec.Parse([]byte(`
paths:
  /items/{id}/archive:
    post:
      operationId: archiveItem
      responses:
        "204":
          description: archived
`))
	require.NoError(t, err)
	_, err = build(t, base, m, csql.NewWithDB(nil, csql.DriverSqlite, ""))
	assert.True(t, errors.Is(err, apispec.ErrUnknownOperation), err)
}

func TestCustomTemplatePath(t *testing.T) {
	m, err := model.Parse([]byte(itemModel))
	require.NoError(t, err)
	base, err := apispec.Parse([]byte(`
paths:
  /items/{id}:
    get:
      operationId: getItem
      parameters:
        - name: id
          in: path
          required: true
          schema:
            type: string
      responses:
        "200":
          description: ok
`))
	require.NoError(t, err)
	ts, err := build(t, base, m, csql.NewWithDB(nil, csql.DriverSqlite, ""))
	require.NoError(t, err)

	// the template decides the routes, the identifier type follows the model
	status, _, _, err := ts.client.Do(http.MethodPut, "/items/1", []byte(`{"title":"a"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, status)
	status, _, _, err = ts.client.Do(http.MethodGet, "/items/abc", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestMissingDescription(t *testing.T) {
	m, err := model.Parse([]byte(itemModel))
	require.NoError(t, err)
	_, err = New(&Builder{
		Description: filepath.Join(t.TempDir(), "missing.yaml"),
		Model:       m,
		DB:          csql.NewWithDB(nil, csql.DriverSqlite, ""),
		Router:      mux.NewRouter(),
	})
	assert.Error(t, err)
	_, err = New(&Builder{Model: m, Router: mux.NewRouter()})
	assert.Error(t, err)
}

func newMockService(t *testing.T) (*testService, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	m, err := model.Parse([]byte(itemModel))
	require.NoError(t, err)
	ts, err := build(t, apispec.DefaultBase(), m, csql.NewWithDB(mockDB, csql.DriverPostgres, ""))
	require.NoError(t, err)
	return ts, mock
}

var selectItem = regexp.QuoteMeta(`SELECT * FROM "public"."items" WHERE "id"=$1;`)

func TestPutFailureRollsBack(t *testing.T) {
	ts, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectItem).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "public"."items"`)).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	status, _, body, err := ts.client.Do(http.MethodPut, "/items/1", map[string]interface{}{"title": "a"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.False(t, strings.Contains(string(body), "disk full"))
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, ts.notifier.notifications)
}

func TestDeleteCommitFailure(t *testing.T) {
	ts, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(selectItem).WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title"}).AddRow(int64(1), "a"))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "public"."items" WHERE "id"=$1;`)).WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))

	status, _, _, err := ts.client.Do(http.MethodDelete, "/items/1", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, ts.notifier.notifications)
}

func TestLoadFailure(t *testing.T) {
	ts, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "public"."items" ORDER BY "id";`)).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	status, _, _, err := ts.client.Do(http.MethodGet, "/items", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.NoError(t, mock.ExpectationsWereMet())
}
