package handlers

import (
	"context"
	"errors"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"

	"lambda-event-patterns/internal/storage"
	"lambda-event-patterns/pkg/lambda"
)

type fakeParameters struct {
	values map[string]string
	err    error
}

func (f *fakeParameters) GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	if !aws.ToBool(params.WithDecryption) {
		return nil, &smithy.GenericAPIError{Code: "ValidationException", Message: "decryption required"}
	}
	value, ok := f.values[aws.ToString(params.Name)]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{Message: aws.String("not found")}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{
		Name:    params.Name,
		Value:   aws.String(value),
		Type:    ssmtypes.ParameterTypeSecureString,
		Version: 3,
	}}, nil
}

type fakeInvoker struct {
	calls []*lambdasvc.InvokeInput
	err   error
}

func (f *fakeInvoker) Invoke(ctx context.Context, params *lambdasvc.InvokeInput, optFns ...func(*lambdasvc.Options)) (*lambdasvc.InvokeOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, params)
	return &lambdasvc.InvokeOutput{StatusCode: 202}, nil
}

func TestParameterHandler(t *testing.T) {
	ctx := context.Background()
	reader := &fakeParameters{values: map[string]string{"/app/secret": "s3cr3t"}}

	t.Run("Existing parameter", func(t *testing.T) {
		handler := NewParameterHandler(reader, "/app/secret", testLogger)

		resp, err := handler.HandleGet(ctx, &lambda.Request{})
		if err != nil {
			t.Fatalf("HandleGet failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, resp.Body)
		}

		var body ParameterResponse
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if body.Value != "s3cr3t" || body.Type != "SecureString" || body.Version != 3 {
			t.Errorf("Expected decrypted SecureString v3, got %+v", body)
		}
	})

	t.Run("Unknown parameter", func(t *testing.T) {
		handler := NewParameterHandler(reader, "/app/missing", testLogger)

		resp, _ := handler.HandleGet(ctx, &lambda.Request{})
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", resp.StatusCode)
		}
	})

	t.Run("Service failure", func(t *testing.T) {
		handler := NewParameterHandler(&fakeParameters{err: errBoom}, "/app/secret", testLogger)

		_, err := handler.HandleGet(ctx, &lambda.Request{})
		if !errors.Is(err, errBoom) {
			t.Errorf("Expected service error, got %v", err)
		}
	})
}

func TestAsyncInvokeHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("Queues job", func(t *testing.T) {
		invoker := &fakeInvoker{}
		handler := NewAsyncInvokeHandler(invoker, "worker", testLogger)

		resp, _ := handler.HandleInvoke(ctx, &lambda.Request{Body: []byte(`{"size":3}`)})
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("Expected status 202, got %d", resp.StatusCode)
		}

		body := decodeBody(resp.Body)
		if body["status"] != "queued" {
			t.Errorf("Expected status queued, got %v", body["status"])
		}

		call := invoker.calls[0]
		if call.InvocationType != lambdatypes.InvocationTypeEvent {
			t.Errorf("Expected Event invocation, got %s", call.InvocationType)
		}
		if aws.ToString(call.FunctionName) != "worker" {
			t.Errorf("Expected function worker, got %s", aws.ToString(call.FunctionName))
		}

		var job Job
		if err := json.Unmarshal(call.Payload, &job); err != nil {
			t.Fatalf("Failed to decode job: %v", err)
		}
		if job.JobID != body["job_id"] {
			t.Errorf("Expected job id %v, got %s", body["job_id"], job.JobID)
		}
		if string(job.Payload) != `{"size":3}` {
			t.Errorf("Expected payload forwarded, got %s", job.Payload)
		}
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		handler := NewAsyncInvokeHandler(&fakeInvoker{}, "worker", testLogger)

		resp, _ := handler.HandleInvoke(ctx, &lambda.Request{Body: []byte("{oops")})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", resp.StatusCode)
		}
	})

	t.Run("Throttled", func(t *testing.T) {
		invoker := &fakeInvoker{err: &smithy.GenericAPIError{Code: "TooManyRequestsException"}}
		handler := NewAsyncInvokeHandler(invoker, "worker", testLogger)

		resp, _ := handler.HandleInvoke(ctx, &lambda.Request{})
		if resp.StatusCode != http.StatusTooManyRequests {
			t.Errorf("Expected status 429, got %d", resp.StatusCode)
		}
	})
}

func TestConverseHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("Completion", func(t *testing.T) {
		model := &fakeModel{completion: "Paris"}
		handler := NewConverseHandler(model, testLogger)

		resp, _ := handler.HandleConverse(ctx, &lambda.Request{Body: []byte(`{"prompt":"Capital of France?"}`)})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", resp.StatusCode)
		}

		var body ConverseResponse
		json.Unmarshal(resp.Body, &body)
		if body.Completion != "Paris" || body.ModelID != "test-model" {
			t.Errorf("Expected Paris from test-model, got %+v", body)
		}
		if model.prompts[0] != "Capital of France?" {
			t.Errorf("Expected prompt forwarded, got %q", model.prompts[0])
		}
	})

	t.Run("Prompt too long", func(t *testing.T) {
		handler := NewConverseHandler(&fakeModel{}, testLogger)

		body, _ := json.Marshal(ConverseRequest{Prompt: strings.Repeat("a", 4001)})
		resp, _ := handler.HandleConverse(ctx, &lambda.Request{Body: body})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", resp.StatusCode)
		}
	})

	t.Run("Model failure", func(t *testing.T) {
		handler := NewConverseHandler(&fakeModel{err: errBoom}, testLogger)

		_, err := handler.HandleConverse(ctx, &lambda.Request{Body: []byte(`{"prompt":"hi"}`)})
		if !errors.Is(err, errBoom) {
			t.Errorf("Expected model error, got %v", err)
		}
	})
}

func TestUploadHandler(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMockObjectStorage()
	handler := NewUploadHandler(store, "uploads-bucket", 0, testLogger)

	t.Run("Presigns key", func(t *testing.T) {
		resp, _ := handler.HandleUploadURL(ctx, &lambda.Request{QueryParams: map[string]string{"filename": "../photos/cat.png"}})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Expected status 200, got %d: %s", resp.StatusCode, resp.Body)
		}

		var body UploadURLResponse
		if err := json.Unmarshal(resp.Body, &body); err != nil {
			t.Fatalf("Failed to decode body: %v", err)
		}
		if body.Bucket != "uploads-bucket" {
			t.Errorf("Expected bucket uploads-bucket, got %s", body.Bucket)
		}
		if !strings.HasPrefix(body.Key, UploadPrefix) || !strings.HasSuffix(body.Key, "/cat.png") {
			t.Errorf("Expected uploads/<uuid>/cat.png, got %s", body.Key)
		}
		if !strings.HasPrefix(body.UploadURL, "mock://uploads-bucket/"+body.Key) {
			t.Errorf("Expected presigned url for key, got %s", body.UploadURL)
		}
	})

	t.Run("Missing filename", func(t *testing.T) {
		resp, _ := handler.HandleUploadURL(ctx, &lambda.Request{})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", resp.StatusCode)
		}
	})
}

func TestSanitizeFilename(t *testing.T) {
	tests := map[string]string{
		"report.pdf":          "report.pdf",
		"a/b/c.txt":           "c.txt",
		`..\..\windows\x.exe`: "x.exe",
		"  ":                  "",
		"..":                  "",
		"dir/":                "dir",
	}

	for input, expected := range tests {
		if got := sanitizeFilename(input); got != expected {
			t.Errorf("sanitizeFilename(%q): expected %q, got %q", input, expected, got)
		}
	}
}
