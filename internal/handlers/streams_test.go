package handlers

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	sfntypes "github.com/aws/aws-sdk-go-v2/service/sfn/types"
)

func streamRecord(id, seq, name string, status string) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:        id,
		EventName:      name,
		EventSourceArn: "arn:aws:dynamodb:us-east-1:123:table/orders/stream/1",
		Change: events.DynamoDBStreamRecord{
			SequenceNumber: seq,
			Keys: map[string]events.DynamoDBAttributeValue{
				"id": events.NewStringAttribute(id),
			},
			NewImage: map[string]events.DynamoDBAttributeValue{
				"id":     events.NewStringAttribute(id),
				"status": events.NewStringAttribute(status),
			},
		},
	}
}

func TestStreamLoggerHandler(t *testing.T) {
	handler := NewStreamLoggerHandler(testLogger)

	t.Run("All records logged", func(t *testing.T) {
		resp, err := handler.Handle(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
			streamRecord("a", "100", "INSERT", "PENDING"),
			streamRecord("b", "101", "MODIFY", "DONE"),
		}})
		if err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
		if len(resp.BatchItemFailures) != 0 {
			t.Errorf("Expected no failures, got %+v", resp.BatchItemFailures)
		}
	})

	t.Run("Stops at record without keys", func(t *testing.T) {
		broken := streamRecord("b", "101", "MODIFY", "DONE")
		broken.Change.Keys = nil

		resp, _ := handler.Handle(context.Background(), events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
			streamRecord("a", "100", "INSERT", "PENDING"),
			broken,
			streamRecord("c", "102", "INSERT", "PENDING"),
		}})
		if len(resp.BatchItemFailures) != 1 {
			t.Fatalf("Expected 1 failure, got %+v", resp.BatchItemFailures)
		}
		if resp.BatchItemFailures[0].ItemIdentifier != "101" {
			t.Errorf("Expected sequence number 101, got %s", resp.BatchItemFailures[0].ItemIdentifier)
		}
	})
}

func TestAttributeValue(t *testing.T) {
	value := attributeValue(events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
		"count": events.NewNumberAttribute("3"),
		"tags":  events.NewListAttribute([]events.DynamoDBAttributeValue{events.NewStringAttribute("x")}),
		"flag":  events.NewBooleanAttribute(true),
		"none":  events.NewNullAttribute(),
	}))

	m, ok := value.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected map, got %T", value)
	}
	if m["count"] != 3.0 {
		t.Errorf("Expected count 3, got %v", m["count"])
	}
	if list, _ := m["tags"].([]interface{}); len(list) != 1 || list[0] != "x" {
		t.Errorf("Expected tags [x], got %v", m["tags"])
	}
	if m["flag"] != true {
		t.Errorf("Expected flag true, got %v", m["flag"])
	}
	if m["none"] != nil {
		t.Errorf("Expected nil for null attribute, got %v", m["none"])
	}
}

const testStreamRules = `{
  "eventHandlers": [
    {
      "eventNames": ["INSERT"],
      "conditions": [{"jsonPath": "$.NewImage.status.S", "value": "PENDING"}],
      "stateMachineConfig": {
        "stateMachineArn": "arn:aws:states:us-east-1:123:stateMachine:fulfil",
        "input": {"orderId": "$.NewImage.id.S", "missing": "$.NewImage.nope.S"}
      }
    }
  ]
}`

func TestParseStreamRules(t *testing.T) {
	t.Run("Valid rules", func(t *testing.T) {
		rules, err := ParseStreamRules(testStreamRules)
		if err != nil {
			t.Fatalf("ParseStreamRules failed: %v", err)
		}
		if len(rules.EventHandlers) != 1 {
			t.Fatalf("Expected 1 rule, got %d", len(rules.EventHandlers))
		}
		if rules.EventHandlers[0].Conditions[0].filter == nil {
			t.Error("Expected compiled condition")
		}
	})

	invalid := []struct {
		name string
		raw  string
	}{
		{"malformed JSON", `{"eventHandlers": [`},
		{"no handlers", `{}`},
		{"missing state machine", `{"eventHandlers":[{"stateMachineConfig":{}}]}`},
		{"missing condition path", `{"eventHandlers":[{"conditions":[{"value":1}],"stateMachineConfig":{"stateMachineArn":"arn"}}]}`},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseStreamRules(tt.raw); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestStreamRuleMatches(t *testing.T) {
	rules, err := ParseStreamRules(testStreamRules)
	if err != nil {
		t.Fatalf("ParseStreamRules failed: %v", err)
	}
	rule := &rules.EventHandlers[0]

	doc := map[string]interface{}{
		"NewImage": map[string]interface{}{
			"id":     map[string]interface{}{"S": "o-1"},
			"status": map[string]interface{}{"S": "PENDING"},
		},
	}

	if !rule.Matches("", "INSERT", doc) {
		t.Error("Expected INSERT with PENDING status to match")
	}
	if rule.Matches("", "MODIFY", doc) {
		t.Error("Expected MODIFY not to match")
	}

	rule.EventSourceARN = "arn:other"
	if rule.Matches("arn:mine", "INSERT", doc) {
		t.Error("Expected other event source not to match")
	}
	rule.EventSourceARN = ""

	input := rule.StateMachine.BuildInput(doc)
	if input["orderId"] != "o-1" {
		t.Errorf("Expected orderId o-1, got %v", input["orderId"])
	}
	if v, ok := input["missing"]; !ok || v != nil {
		t.Errorf("Expected missing path mapped to nil, got %v (present %v)", v, ok)
	}
}

func TestStreamExecutionHandler(t *testing.T) {
	ctx := context.Background()
	rules, err := ParseStreamRules(testStreamRules)
	if err != nil {
		t.Fatalf("ParseStreamRules failed: %v", err)
	}

	t.Run("Starts matching records only", func(t *testing.T) {
		states := &fakeStepFunctions{}
		handler := NewStreamExecutionHandler(states, rules, testLogger)

		resp, err := handler.Handle(ctx, events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
			streamRecord("evt-1", "1", "INSERT", "PENDING"),
			streamRecord("evt-2", "2", "MODIFY", "PENDING"),
			streamRecord("evt-3", "3", "INSERT", "DONE"),
		}})
		if err != nil {
			t.Fatalf("Handle failed: %v", err)
		}
		if len(resp.BatchItemFailures) != 0 {
			t.Errorf("Expected no failures, got %+v", resp.BatchItemFailures)
		}
		if len(states.starts) != 1 {
			t.Fatalf("Expected 1 execution, got %d", len(states.starts))
		}

		start := states.starts[0]
		if aws.ToString(start.Name) != "evt-1" {
			t.Errorf("Expected execution named after event id, got %s", aws.ToString(start.Name))
		}
		if aws.ToString(start.Input) != `{"missing":null,"orderId":"evt-1"}` {
			t.Errorf("Expected mapped input, got %s", aws.ToString(start.Input))
		}
	})

	t.Run("Existing execution counts as success", func(t *testing.T) {
		states := &fakeStepFunctions{startErr: func(string) error {
			return &sfntypes.ExecutionAlreadyExists{Message: aws.String("exists")}
		}}
		handler := NewStreamExecutionHandler(states, rules, testLogger)

		resp, _ := handler.Handle(ctx, events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
			streamRecord("evt-1", "1", "INSERT", "PENDING"),
		}})
		if len(resp.BatchItemFailures) != 0 {
			t.Errorf("Expected no failures, got %+v", resp.BatchItemFailures)
		}
	})

	t.Run("Stops at first failure", func(t *testing.T) {
		states := &fakeStepFunctions{startErr: func(name string) error {
			if name == "evt-2" {
				return errors.New("throttled")
			}
			return nil
		}}
		handler := NewStreamExecutionHandler(states, rules, testLogger)

		resp, _ := handler.Handle(ctx, events.DynamoDBEvent{Records: []events.DynamoDBEventRecord{
			streamRecord("evt-1", "1", "INSERT", "PENDING"),
			streamRecord("evt-2", "2", "INSERT", "PENDING"),
			streamRecord("evt-3", "3", "INSERT", "PENDING"),
		}})
		if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "2" {
			t.Fatalf("Expected failure at sequence 2, got %+v", resp.BatchItemFailures)
		}
		if len(states.starts) != 2 {
			t.Errorf("Expected records after the failure to be skipped, got %d starts", len(states.starts))
		}
	})
}
