package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"

	"github.com/relabs-tech/itemsvc/core/logger"
)

// LambdaHandler returns a Lambda function handler for API Gateway proxy events. Each
// event is served in-process through handler.
func LambdaHandler(handler http.Handler) func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		r, err := requestFromEvent(ctx, event)
		if err != nil {
			return events.APIGatewayProxyResponse{
				StatusCode: http.StatusBadRequest,
				Body:       err.Error(),
			}, nil
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return responseFromRecorder(rec), nil
	}
}

func requestFromEvent(ctx context.Context, event events.APIGatewayProxyRequest) (*http.Request, error) {
	query := url.Values{}
	for key, values := range event.MultiValueQueryStringParameters {
		query[key] = append(query[key], values...)
	}
	for key, value := range event.QueryStringParameters {
		if _, ok := query[key]; !ok {
			query.Set(key, value)
		}
	}
	u := url.URL{Path: event.Path, RawQuery: query.Encode()}

	body := []byte(event.Body)
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(event.Body)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 body: %w", err)
		}
		body = decoded
	}

	r, err := http.NewRequestWithContext(ctx, event.HTTPMethod, u.RequestURI(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for key, values := range event.MultiValueHeaders {
		for _, value := range values {
			r.Header.Add(key, value)
		}
	}
	for key, value := range event.Headers {
		if r.Header.Get(key) == "" {
			r.Header.Set(key, value)
		}
	}
	if r.Header.Get(logger.RequestIDHeader) == "" && event.RequestContext.RequestID != "" {
		r.Header.Set(logger.RequestIDHeader, event.RequestContext.RequestID)
	}
	r.RequestURI = u.RequestURI()
	return r, nil
}

func responseFromRecorder(rec *httptest.ResponseRecorder) events.APIGatewayProxyResponse {
	res := rec.Result()
	headers := map[string]string{}
	for key, values := range res.Header {
		headers[key] = strings.Join(values, ",")
	}
	response := events.APIGatewayProxyResponse{
		StatusCode:        res.StatusCode,
		Headers:           headers,
		MultiValueHeaders: map[string][]string(res.Header),
	}
	body := rec.Body.Bytes()
	if isText(res.Header) {
		response.Body = string(body)
	} else {
		response.Body = base64.StdEncoding.EncodeToString(body)
		response.IsBase64Encoded = true
	}
	return response
}

// isText returns true if a body with header can be passed to API Gateway as is
func isText(header http.Header) bool {
	if header.Get("Content-Encoding") != "" {
		return false
	}
	contentType := header.Get("Content-Type")
	return contentType == "" ||
		strings.HasPrefix(contentType, "text/") ||
		strings.HasPrefix(contentType, "application/json") ||
		strings.HasPrefix(contentType, "application/yaml")
}
