package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/afero"
	"github.com/stefando/scormhost/internal/app"
	"github.com/stefando/scormhost/internal/auth"
	"github.com/stefando/scormhost/internal/config"
	"github.com/stefando/scormhost/internal/logging"
)

// gateway adapts API Gateway proxy events onto the HTTP router.
type gateway struct {
	router http.Handler
	logger *logging.Logger
}

func (g *gateway) handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	httpReq, err := createHTTPRequest(ctx, req)
	if err != nil {
		g.logger.Error("Error creating HTTP request", "error", err)
		return events.APIGatewayProxyResponse{
			StatusCode: http.StatusInternalServerError,
			Body:       "Internal server error",
		}, nil
	}

	// The REQUEST authorizer has already verified the token; its context
	// names the learner.
	if learner, ok := req.RequestContext.Authorizer["learner_id"].(string); ok && learner != "" {
		httpReq = httpReq.WithContext(auth.WithLearner(httpReq.Context(), learner))
		g.logger.Debug("Learner from authorizer context", "learner", learner)
	}

	rec := newResponseRecorder()
	g.router.ServeHTTP(rec, httpReq)
	return rec.response(), nil
}

// createHTTPRequest creates an http.Request from an API Gateway event.
func createHTTPRequest(ctx context.Context, req events.APIGatewayProxyRequest) (*http.Request, error) {
	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return nil, err
		}
		body = string(decoded)
	}

	path := req.Path
	for param, value := range req.PathParameters {
		path = strings.ReplaceAll(path, "{"+param+"}", value)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.HTTPMethod, path, strings.NewReader(body))
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	for param, values := range req.MultiValueQueryStringParameters {
		for _, v := range values {
			query.Add(param, v)
		}
	}
	for param, value := range req.QueryStringParameters {
		if !query.Has(param) {
			query.Set(param, value)
		}
	}
	httpReq.URL.RawQuery = query.Encode()

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

// responseRecorder captures the router's response.
type responseRecorder struct {
	header     http.Header
	body       strings.Builder
	statusCode int
}

func newResponseRecorder() *responseRecorder {
	return &responseRecorder{header: http.Header{}, statusCode: http.StatusOK}
}

func (r *responseRecorder) Header() http.Header { return r.header }

func (r *responseRecorder) Write(body []byte) (int, error) {
	return r.body.Write(body)
}

func (r *responseRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
}

func (r *responseRecorder) response() events.APIGatewayProxyResponse {
	headers := make(map[string]string, len(r.header))
	for key, values := range r.header {
		headers[key] = strings.Join(values, ", ")
	}
	return events.APIGatewayProxyResponse{
		StatusCode:        r.statusCode,
		Headers:           headers,
		MultiValueHeaders: r.header,
		Body:              r.body.String(),
	}
}

func main() {
	logging.CreateLogger()
	logger := logging.GetLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", "error", err)
	}
	// Requests only reach the function through the REQUEST authorizer.
	cfg.TrustGatewayTokens = true
	a, err := app.Build(context.Background(), cfg, afero.NewOsFs(), logger)
	if err != nil {
		logger.Fatal("Failed to initialize services", "error", err)
	}
	defer a.Close()

	g := &gateway{router: a.Router(), logger: logger}
	lambda.Start(g.handle)
}
