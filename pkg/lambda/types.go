package lambda

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/aws/aws-lambda-go/events"
)

// Request represents a generic HTTP request for serverless functions
type Request struct {
	Method      string            `json:"method"`
	Path        string            `json:"path"`
	Headers     map[string]string `json:"headers"`
	QueryParams map[string]string `json:"query_params"`
	Body        []byte            `json:"body"`
	PathParams  map[string]string `json:"path_params"`
	RequestID   string            `json:"request_id,omitempty"`
}

// Header returns the value of a header, matched case-insensitively
func (r *Request) Header(name string) string {
	if v, ok := r.Headers[name]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Response represents a generic HTTP response for serverless functions
type Response struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
}

// HandlerFunc is a framework-agnostic handler interface
type HandlerFunc func(ctx context.Context, req *Request) (*Response, error)

// JSON builds a response with a JSON encoded body
func JSON(status int, body interface{}) (*Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       data,
	}, nil
}

func decodeBody(body string, isBase64 bool) []byte {
	if !isBase64 {
		return []byte(body)
	}
	data, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return []byte(body)
	}
	return data
}

// FromAPIGateway converts a REST API proxy event to a generic request
func FromAPIGateway(event events.APIGatewayProxyRequest) *Request {
	return &Request{
		Method:      event.HTTPMethod,
		Path:        event.Path,
		Headers:     event.Headers,
		QueryParams: event.QueryStringParameters,
		Body:        decodeBody(event.Body, event.IsBase64Encoded),
		PathParams:  event.PathParameters,
		RequestID:   event.RequestContext.RequestID,
	}
}

// FromFunctionURL converts a function URL event to a generic request
func FromFunctionURL(event events.LambdaFunctionURLRequest) *Request {
	return &Request{
		Method:      event.RequestContext.HTTP.Method,
		Path:        event.RawPath,
		Headers:     event.Headers,
		QueryParams: event.QueryStringParameters,
		Body:        decodeBody(event.Body, event.IsBase64Encoded),
		RequestID:   event.RequestContext.RequestID,
	}
}

// FromALB converts an Application Load Balancer event to a generic request.
// Multi-value parameters keep their last value.
func FromALB(event events.ALBTargetGroupRequest) *Request {
	query := event.QueryStringParameters
	if len(query) == 0 && len(event.MultiValueQueryStringParameters) > 0 {
		query = make(map[string]string, len(event.MultiValueQueryStringParameters))
		for k, values := range event.MultiValueQueryStringParameters {
			if len(values) > 0 {
				query[k] = values[len(values)-1]
			}
		}
	}

	headers := event.Headers
	if len(headers) == 0 && len(event.MultiValueHeaders) > 0 {
		headers = make(map[string]string, len(event.MultiValueHeaders))
		for k, values := range event.MultiValueHeaders {
			if len(values) > 0 {
				headers[k] = values[len(values)-1]
			}
		}
	}

	return &Request{
		Method:      event.HTTPMethod,
		Path:        event.Path,
		Headers:     headers,
		QueryParams: query,
		Body:        decodeBody(event.Body, event.IsBase64Encoded),
	}
}

// APIGateway converts the response to a REST API proxy response
func (r *Response) APIGateway() events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: r.StatusCode,
		Headers:    r.Headers,
		Body:       string(r.Body),
	}
}

// ALB converts the response to a load balancer response
func (r *Response) ALB() events.ALBTargetGroupResponse {
	return events.ALBTargetGroupResponse{
		StatusCode:        r.StatusCode,
		StatusDescription: statusDescription(r.StatusCode),
		Headers:           r.Headers,
		Body:              string(r.Body),
	}
}

func statusDescription(code int) string {
	text := http.StatusText(code)
	if text == "" {
		return "500 " + http.StatusText(http.StatusInternalServerError)
	}
	return strconv.Itoa(code) + " " + text
}

var internalError = &Response{
	StatusCode: http.StatusInternalServerError,
	Headers:    map[string]string{"Content-Type": "application/json"},
	Body:       []byte(`{"error": "Internal server error"}`),
}

// APIGatewayHandler adapts h to a REST API proxy integration. An error
// returned by h fails the invocation.
func APIGatewayHandler(h HandlerFunc) func(context.Context, events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	return func(ctx context.Context, event events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
		resp, err := h(ctx, FromAPIGateway(event))
		if err != nil {
			return events.APIGatewayProxyResponse{}, err
		}
		if resp == nil {
			return internalError.APIGateway(), nil
		}
		return resp.APIGateway(), nil
	}
}

// ALBHandler adapts h to a load balancer target
func ALBHandler(h HandlerFunc) func(context.Context, events.ALBTargetGroupRequest) (events.ALBTargetGroupResponse, error) {
	return func(ctx context.Context, event events.ALBTargetGroupRequest) (events.ALBTargetGroupResponse, error) {
		resp, err := h(ctx, FromALB(event))
		if err != nil {
			return events.ALBTargetGroupResponse{}, err
		}
		if resp == nil {
			return internalError.ALB(), nil
		}
		return resp.ALB(), nil
	}
}
