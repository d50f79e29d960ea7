package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouter() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("X-Seen-Request-Id", r.Header.Get("X-Request-Id"))
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"id":"` + mux.Vars(r)["id"] + `","limit":"` + r.URL.Query().Get("limit") + `","body":` + string(body) + `}`))
	}).Methods(http.MethodPut)
	router.Handle("/compressed", handlers.CompressHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	})))
	return router
}

func TestLambdaHandler(t *testing.T) {
	handler := LambdaHandler(testRouter())

	res, err := handler(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:                      http.MethodPut,
		Path:                            "/items/7",
		MultiValueQueryStringParameters: map[string][]string{"limit": {"3"}},
		Body:                            base64.StdEncoding.EncodeToString([]byte(`{"title":"x"}`)),
		IsBase64Encoded:                 true,
		RequestContext:                  events.APIGatewayProxyRequestContext{RequestID: "gw-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, res.StatusCode)
	assert.False(t, res.IsBase64Encoded)
	assert.JSONEq(t, `{"id":"7","limit":"3","body":{"title":"x"}}`, res.Body)
	assert.Equal(t, "gw-1", res.Headers["X-Seen-Request-Id"])

	res, err = handler(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod:            http.MethodPut,
		Path:                  "/items/8",
		QueryStringParameters: map[string]string{"limit": "1"},
		Headers:               map[string]string{"X-Request-Id": "client-1"},
		Body:                  `{}`,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"8","limit":"1","body":{}}`, res.Body)
	assert.Equal(t, "client-1", res.Headers["X-Seen-Request-Id"])

	res, err = handler(context.Background(), events.APIGatewayProxyRequest{HTTPMethod: http.MethodGet, Path: "/items/8"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusMethodNotAllowed, res.StatusCode)

	res, err = handler(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodPut, Path: "/items/8", Body: "%%%", IsBase64Encoded: true,
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestLambdaHandlerBinaryBody(t *testing.T) {
	handler := LambdaHandler(testRouter())
	res, err := handler(context.Background(), events.APIGatewayProxyRequest{
		HTTPMethod: http.MethodGet,
		Path:       "/compressed",
		Headers:    map[string]string{"Accept-Encoding": "gzip"},
	})
	require.NoError(t, err)
	require.True(t, res.IsBase64Encoded)
	data, err := base64.StdEncoding.DecodeString(res.Body)
	require.NoError(t, err)
	reader, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	plain, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(plain))
}

func TestServeHTTP(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- serve(ctx, listener, testRouter())
	}()

	client := &http.Client{Timeout: 5 * time.Second}
	r, err := http.NewRequest(http.MethodPut, "http://"+listener.Addr().String()+"/items/1", bytes.NewBufferString(`1`))
	require.NoError(t, err)
	res, err := client.Do(r)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusCreated, res.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestRunUnknownServer(t *testing.T) {
	assert.Error(t, Run(context.Background(), "grpc", 0, testRouter()))
}
