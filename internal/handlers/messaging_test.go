package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"lambda-event-patterns/pkg/lambda"
)

type fakeQueue struct {
	sent []*sqs.SendMessageInput
	err  error
}

func (f *fakeQueue) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, params)
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil
}

type fakeTopic struct {
	published []*sns.PublishInput
}

func (f *fakeTopic) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.published = append(f.published, params)
	return &sns.PublishOutput{MessageId: aws.String("pub-1")}, nil
}

func TestQueueHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("Sends body", func(t *testing.T) {
		queue := &fakeQueue{}
		handler := NewQueueHandler(queue, "https://sqs.local/queue", testLogger)

		resp, err := handler.HandleSend(ctx, &lambda.Request{Body: []byte(`{"order":1}`)})
		if err != nil {
			t.Fatalf("HandleSend failed: %v", err)
		}
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("Expected status 202, got %d", resp.StatusCode)
		}
		if body := decodeBody(resp.Body); body["message_id"] != "msg-1" {
			t.Errorf("Expected message_id msg-1, got %v", body["message_id"])
		}
		if len(queue.sent) != 1 || aws.ToString(queue.sent[0].MessageBody) != `{"order":1}` {
			t.Errorf("Expected body forwarded unchanged, got %+v", queue.sent)
		}
		if aws.ToString(queue.sent[0].QueueUrl) != "https://sqs.local/queue" {
			t.Errorf("Expected queue url, got %s", aws.ToString(queue.sent[0].QueueUrl))
		}
	})

	t.Run("Blank body", func(t *testing.T) {
		queue := &fakeQueue{}
		handler := NewQueueHandler(queue, "q", testLogger)

		resp, _ := handler.HandleSend(ctx, &lambda.Request{Body: []byte("  ")})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", resp.StatusCode)
		}
		if len(queue.sent) != 0 {
			t.Errorf("Expected nothing sent, got %d", len(queue.sent))
		}
	})

	t.Run("Send failure", func(t *testing.T) {
		handler := NewQueueHandler(&fakeQueue{err: errBoom}, "q", testLogger)

		resp, err := handler.HandleSend(ctx, &lambda.Request{Body: []byte("hello")})
		if !errors.Is(err, errBoom) {
			t.Errorf("Expected send error, got %v", err)
		}
		if resp != nil {
			t.Errorf("Expected no response, got %d", resp.StatusCode)
		}
	})
}

func TestTopicHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("With subject", func(t *testing.T) {
		topic := &fakeTopic{}
		handler := NewTopicHandler(topic, "arn:aws:sns:us-east-1:123:topic", testLogger)

		resp, _ := handler.HandlePublish(ctx, &lambda.Request{Body: []byte(`{"message":"hi","subject":"greeting"}`)})
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("Expected status 202, got %d", resp.StatusCode)
		}
		if aws.ToString(topic.published[0].Subject) != "greeting" {
			t.Errorf("Expected subject greeting, got %v", topic.published[0].Subject)
		}
	})

	t.Run("Without subject", func(t *testing.T) {
		topic := &fakeTopic{}
		handler := NewTopicHandler(topic, "arn", testLogger)

		handler.HandlePublish(ctx, &lambda.Request{Body: []byte(`{"message":"hi"}`)})
		if len(topic.published) != 1 {
			t.Fatalf("Expected 1 publish, got %d", len(topic.published))
		}
		if topic.published[0].Subject != nil {
			t.Errorf("Expected no subject, got %s", aws.ToString(topic.published[0].Subject))
		}
	})

	t.Run("Missing message", func(t *testing.T) {
		handler := NewTopicHandler(&fakeTopic{}, "arn", testLogger)

		resp, _ := handler.HandlePublish(ctx, &lambda.Request{Body: []byte(`{"subject":"x"}`)})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", resp.StatusCode)
		}
	})
}

func TestEventBusHandler(t *testing.T) {
	ctx := context.Background()

	t.Run("Puts event", func(t *testing.T) {
		bus := &fakeEventBus{}
		handler := NewEventBusHandler(bus, "orders-bus", "app.orders", testLogger)

		resp, _ := handler.HandlePut(ctx, &lambda.Request{Body: []byte(`{"detail_type":"OrderPlaced","detail":{"id":"o-1"}}`)})
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("Expected status 202, got %d: %s", resp.StatusCode, resp.Body)
		}
		if body := decodeBody(resp.Body); body["event_id"] != "evt-OrderPlaced" {
			t.Errorf("Expected event id evt-OrderPlaced, got %v", body["event_id"])
		}

		entry := bus.entries[0]
		if aws.ToString(entry.EventBusName) != "orders-bus" || aws.ToString(entry.Source) != "app.orders" {
			t.Errorf("Expected bus orders-bus and source app.orders, got %s %s", aws.ToString(entry.EventBusName), aws.ToString(entry.Source))
		}
		if aws.ToString(entry.Detail) != `{"id":"o-1"}` {
			t.Errorf("Expected detail forwarded, got %s", aws.ToString(entry.Detail))
		}
	})

	t.Run("Detail must be an object", func(t *testing.T) {
		handler := NewEventBusHandler(&fakeEventBus{}, "bus", "src", testLogger)

		resp, _ := handler.HandlePut(ctx, &lambda.Request{Body: []byte(`{"detail_type":"X","detail":[1,2]}`)})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("Expected status 400, got %d", resp.StatusCode)
		}
	})

	t.Run("Rejected entry", func(t *testing.T) {
		bus := &fakeEventBus{reject: func(string) bool { return true }}
		handler := NewEventBusHandler(bus, "bus", "src", testLogger)

		resp, err := handler.HandlePut(ctx, &lambda.Request{Body: []byte(`{"detail_type":"X","detail":{}}`)})
		if err == nil {
			t.Error("Expected rejected entry to fail the invocation")
		}
		if resp != nil {
			t.Errorf("Expected no response, got %d", resp.StatusCode)
		}
	})
}

func TestPutEventRejected(t *testing.T) {
	bus := &fakeEventBus{reject: func(string) bool { return true }}

	_, err := putEvent(context.Background(), bus, "bus", "src", "X", "{}")
	if !errors.Is(err, ErrEventRejected) {
		t.Fatalf("Expected ErrEventRejected, got %v", err)
	}
	if !containsAll(err.Error(), "InternalFailure", "rejected") {
		t.Errorf("Expected error code and message in %q", err.Error())
	}
}
