package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	ebtypes "github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/aws/aws-sdk-go-v2/service/sfn"

	"lambda-event-patterns/internal/bedrock"
	"lambda-event-patterns/internal/logging"
)

var testLogger = logging.Discard()

var errBoom = errors.New("boom")

type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]ddbtypes.AttributeValue
	puts  []*dynamodb.PutItemInput
	err   error
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]ddbtypes.AttributeValue)}
}

func (f *fakeDynamo) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.puts = append(f.puts, params)
	if id, ok := params.Item["id"].(*ddbtypes.AttributeValueMemberS); ok {
		f.items[id.Value] = params.Item
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	id := params.Key["id"].(*ddbtypes.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[id]}, nil
}

type fakeEventBus struct {
	mu      sync.Mutex
	entries []ebtypes.PutEventsRequestEntry
	err     error
	reject  func(detail string) bool
}

func (f *fakeEventBus) PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	out := &eventbridge.PutEventsOutput{}
	for _, entry := range params.Entries {
		if f.reject != nil && f.reject(aws.ToString(entry.Detail)) {
			out.FailedEntryCount++
			out.Entries = append(out.Entries, ebtypes.PutEventsResultEntry{
				ErrorCode:    aws.String("InternalFailure"),
				ErrorMessage: aws.String("rejected"),
			})
			continue
		}
		f.entries = append(f.entries, entry)
		out.Entries = append(out.Entries, ebtypes.PutEventsResultEntry{EventId: aws.String("evt-" + aws.ToString(entry.DetailType))})
	}
	return out, nil
}

type fakeStepFunctions struct {
	mu        sync.Mutex
	starts    []*sfn.StartExecutionInput
	successes []*sfn.SendTaskSuccessInput
	failures  []*sfn.SendTaskFailureInput
	startErr  func(name string) error
}

func (f *fakeStepFunctions) StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, params)
	if f.startErr != nil {
		if err := f.startErr(aws.ToString(params.Name)); err != nil {
			return nil, err
		}
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &sfn.StartExecutionOutput{
		ExecutionArn: aws.String(aws.ToString(params.StateMachineArn) + ":" + aws.ToString(params.Name)),
		StartDate:    &now,
	}, nil
}

func (f *fakeStepFunctions) SendTaskSuccess(ctx context.Context, params *sfn.SendTaskSuccessInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskSuccessOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes = append(f.successes, params)
	return &sfn.SendTaskSuccessOutput{}, nil
}

func (f *fakeStepFunctions) SendTaskFailure(ctx context.Context, params *sfn.SendTaskFailureInput, optFns ...func(*sfn.Options)) (*sfn.SendTaskFailureOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, params)
	return &sfn.SendTaskFailureOutput{}, nil
}

type fakeEventReader struct {
	events chan types.ConverseStreamOutput
	err    error
}

func newFakeEventReader(tokens ...string) *fakeEventReader {
	ch := make(chan types.ConverseStreamOutput, len(tokens)+2)
	ch <- &types.ConverseStreamOutputMemberMessageStart{}
	for _, token := range tokens {
		ch <- &types.ConverseStreamOutputMemberContentBlockDelta{
			Value: types.ContentBlockDeltaEvent{Delta: &types.ContentBlockDeltaMemberText{Value: token}},
		}
	}
	ch <- &types.ConverseStreamOutputMemberMessageStop{}
	close(ch)
	return &fakeEventReader{events: ch}
}

func (f *fakeEventReader) Events() <-chan types.ConverseStreamOutput {
	return f.events
}

func (f *fakeEventReader) Err() error {
	return f.err
}

func (f *fakeEventReader) Close() error {
	return nil
}

// fakeModel stands in for bedrock.Model
type fakeModel struct {
	completion string
	err        error
	tokens     []string
	prompts    []string
	formats    []types.ImageFormat
}

func (m *fakeModel) ID() string { return "test-model" }

func (m *fakeModel) Complete(ctx context.Context, prompt string) (string, error) {
	m.prompts = append(m.prompts, prompt)
	return m.completion, m.err
}

func (m *fakeModel) DescribeImage(ctx context.Context, prompt string, format types.ImageFormat, image []byte) (string, error) {
	m.prompts = append(m.prompts, prompt)
	m.formats = append(m.formats, format)
	return m.completion, m.err
}

func (m *fakeModel) Stream(ctx context.Context, prompt string) (bedrock.EventReader, error) {
	m.prompts = append(m.prompts, prompt)
	if m.err != nil {
		return nil, m.err
	}
	return newFakeEventReader(m.tokens...), nil
}

type fakePoster struct {
	mu       sync.Mutex
	messages []string
	err      error
}

func (p *fakePoster) PostToConnection(ctx context.Context, params *apigatewaymanagementapi.PostToConnectionInput, optFns ...func(*apigatewaymanagementapi.Options)) (*apigatewaymanagementapi.PostToConnectionOutput, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.messages = append(p.messages, string(params.Data))
	return &apigatewaymanagementapi.PostToConnectionOutput{}, nil
}

func decodeBody(body []byte) map[string]interface{} {
	var out map[string]interface{}
	_ = json.Unmarshal(body, &out)
	return out
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
