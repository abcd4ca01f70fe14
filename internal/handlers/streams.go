package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/sirupsen/logrus"
	"github.com/yalp/jsonpath"

	"lambda-event-patterns/internal/batch"
	"lambda-event-patterns/internal/logging"
)

// StreamLoggerHandler logs every change of a DynamoDB stream batch
type StreamLoggerHandler struct {
	logger *logrus.Logger
}

// NewStreamLoggerHandler creates a new stream logger handler
func NewStreamLoggerHandler(logger *logrus.Logger) *StreamLoggerHandler {
	return &StreamLoggerHandler{logger: logger}
}

// Handle logs records in stream order and reports the first record that
// could not be handled so the shard resumes from it
func (h *StreamLoggerHandler) Handle(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	log := logging.ForInvocation(ctx, h.logger)

	results := batch.ProcessInOrder(ctx, event.Records, batch.DynamoDBSequenceNumber, func(ctx context.Context, record events.DynamoDBEventRecord) error {
		if len(record.Change.Keys) == 0 {
			return missing("dynamodb.Keys")
		}

		fields := logrus.Fields{
			"event_id":   record.EventID,
			"event_name": record.EventName,
			"keys":       attributeMap(record.Change.Keys),
		}
		if len(record.Change.NewImage) > 0 {
			fields["new_image"] = attributeMap(record.Change.NewImage)
		}
		if len(record.Change.OldImage) > 0 {
			fields["old_image"] = attributeMap(record.Change.OldImage)
		}
		log.WithFields(fields).Info("Stream record")
		return nil
	})

	if failures := batch.Failures(results); len(failures) > 0 {
		log.WithField("sequence_number", failures[0]).Error("Stream batch stopped")
	}
	return batch.DynamoDBResponse(results), nil
}

// attributeMap converts stream attribute values to plain Go values
func attributeMap(attrs map[string]events.DynamoDBAttributeValue) map[string]interface{} {
	out := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		out[k] = attributeValue(v)
	}
	return out
}

func attributeValue(av events.DynamoDBAttributeValue) interface{} {
	switch av.DataType() {
	case events.DataTypeString:
		return av.String()
	case events.DataTypeNumber:
		if f, err := strconv.ParseFloat(av.Number(), 64); err == nil {
			return f
		}
		return av.Number()
	case events.DataTypeBoolean:
		return av.Boolean()
	case events.DataTypeBinary:
		return av.Binary()
	case events.DataTypeStringSet:
		return av.StringSet()
	case events.DataTypeNumberSet:
		return av.NumberSet()
	case events.DataTypeBinarySet:
		return av.BinarySet()
	case events.DataTypeList:
		list := av.List()
		out := make([]interface{}, len(list))
		for i, item := range list {
			out[i] = attributeValue(item)
		}
		return out
	case events.DataTypeMap:
		return attributeMap(av.Map())
	default:
		return nil
	}
}

// StreamCondition compares the first JSONPath match against Value
type StreamCondition struct {
	JSONPath string      `json:"jsonPath" validate:"required"`
	Value    interface{} `json:"value"`

	filter jsonpath.FilterFunc
}

// StateMachineTarget names the execution to start and maps its input from
// the stream record, one JSONPath per input key
type StateMachineTarget struct {
	StateMachineARN string            `json:"stateMachineArn" validate:"required"`
	Input           map[string]string `json:"input"`

	inputFilters map[string]jsonpath.FilterFunc
}

// StreamRule starts an execution for records matching every condition
type StreamRule struct {
	EventSourceARN string             `json:"eventSourceArn,omitempty"`
	EventNames     []string           `json:"eventNames"`
	Conditions     []StreamCondition  `json:"conditions" validate:"dive"`
	StateMachine   StateMachineTarget `json:"stateMachineConfig"`
}

// StreamRules is the content of EVENT_HANDLER_CONFIG
type StreamRules struct {
	EventHandlers []StreamRule `json:"eventHandlers" validate:"required,dive"`
}

// ParseStreamRules decodes the rule set and compiles its JSONPath
// expressions
func ParseStreamRules(raw string) (*StreamRules, error) {
	var rules StreamRules
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		return nil, fmt.Errorf("decode stream rules: %w", err)
	}
	if err := validate.Struct(&rules); err != nil {
		return nil, fmt.Errorf("invalid stream rules: %w", err)
	}

	for i := range rules.EventHandlers {
		rule := &rules.EventHandlers[i]
		for j := range rule.Conditions {
			filter, err := jsonpath.Prepare(rule.Conditions[j].JSONPath)
			if err != nil {
				return nil, fmt.Errorf("condition %q: %w", rule.Conditions[j].JSONPath, err)
			}
			rule.Conditions[j].filter = filter
		}

		rule.StateMachine.inputFilters = make(map[string]jsonpath.FilterFunc, len(rule.StateMachine.Input))
		for key, path := range rule.StateMachine.Input {
			filter, err := jsonpath.Prepare(path)
			if err != nil {
				return nil, fmt.Errorf("input %s %q: %w", key, path, err)
			}
			rule.StateMachine.inputFilters[key] = filter
		}
	}

	return &rules, nil
}

// Matches reports whether the record satisfies the rule. doc is the
// record's dynamodb section decoded as generic JSON.
func (r *StreamRule) Matches(eventSourceARN, eventName string, doc interface{}) bool {
	if r.EventSourceARN != "" && r.EventSourceARN != eventSourceARN {
		return false
	}
	if len(r.EventNames) > 0 && !containsString(r.EventNames, eventName) {
		return false
	}

	for _, cond := range r.Conditions {
		match, err := firstMatch(cond.filter, doc)
		if err != nil || !reflect.DeepEqual(match, cond.Value) {
			return false
		}
	}
	return true
}

// BuildInput evaluates the input mapping. Paths without a match map to null.
func (t *StateMachineTarget) BuildInput(doc interface{}) map[string]interface{} {
	input := make(map[string]interface{}, len(t.inputFilters))
	for key, filter := range t.inputFilters {
		match, err := firstMatch(filter, doc)
		if err != nil {
			input[key] = nil
			continue
		}
		input[key] = match
	}
	return input
}

func firstMatch(filter jsonpath.FilterFunc, doc interface{}) (interface{}, error) {
	if filter == nil {
		return nil, errors.New("jsonpath not compiled")
	}
	value, err := filter(doc)
	if err != nil {
		return nil, err
	}
	if list, ok := value.([]interface{}); ok {
		if len(list) == 0 {
			return nil, errors.New("no match")
		}
		return list[0], nil
	}
	return value, nil
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// StreamExecutionHandler starts state machine executions for matching
// DynamoDB stream records
type StreamExecutionHandler struct {
	starter ExecutionStarter
	rules   *StreamRules
	logger  *logrus.Logger
}

// NewStreamExecutionHandler creates a new stream execution handler
func NewStreamExecutionHandler(starter ExecutionStarter, rules *StreamRules, logger *logrus.Logger) *StreamExecutionHandler {
	return &StreamExecutionHandler{starter: starter, rules: rules, logger: logger}
}

// Handle processes records in order and stops at the first failure
func (h *StreamExecutionHandler) Handle(ctx context.Context, event events.DynamoDBEvent) (events.DynamoDBEventResponse, error) {
	log := logging.ForInvocation(ctx, h.logger)

	results := batch.ProcessInOrder(ctx, event.Records, batch.DynamoDBSequenceNumber, h.handleRecord)
	if failures := batch.Failures(results); len(failures) > 0 {
		for _, r := range results {
			if r.Failed() {
				log.WithError(r.Err).WithField("sequence_number", r.ID).Error("Failed to handle stream record")
			}
		}
	}
	return batch.DynamoDBResponse(results), nil
}

func (h *StreamExecutionHandler) handleRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	log := logging.ForInvocation(ctx, h.logger).WithField("event_id", record.EventID)

	raw, err := json.Marshal(record.Change)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", record.EventID, err)
	}
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("decode record %s: %w", record.EventID, err)
	}

	for i := range h.rules.EventHandlers {
		rule := &h.rules.EventHandlers[i]
		if !rule.Matches(record.EventSourceArn, record.EventName, doc) {
			log.WithField("state_machine_arn", rule.StateMachine.StateMachineARN).Debug("Record does not match rule")
			continue
		}
		if err := h.startExecution(ctx, log, rule.StateMachine, record, doc); err != nil {
			return err
		}
	}
	return nil
}

func (h *StreamExecutionHandler) startExecution(ctx context.Context, log *logrus.Entry, target StateMachineTarget, record events.DynamoDBEventRecord, doc interface{}) error {
	input, err := json.Marshal(target.BuildInput(doc))
	if err != nil {
		return fmt.Errorf("encode execution input: %w", err)
	}

	out, err := h.starter.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(target.StateMachineARN),
		Name:            aws.String(executionName(record)),
		Input:           aws.String(string(input)),
	})
	if err != nil {
		var exists *sfntypes.ExecutionAlreadyExists
		if errors.As(err, &exists) {
			log.Info("Execution already exists")
			return nil
		}
		return fmt.Errorf("start execution for %s: %w", record.EventID, err)
	}

	log.WithField("execution_arn", aws.ToString(out.ExecutionArn)).Info("Execution started")
	return nil
}

// executionName makes redelivered records start the same execution
func executionName(record events.DynamoDBEventRecord) string {
	if record.EventID != "" {
		return record.EventID
	}
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
