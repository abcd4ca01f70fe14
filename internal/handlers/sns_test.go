package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
)

func TestNotificationHandler(t *testing.T) {
	handler := NewNotificationHandler(testLogger)

	err := handler.Handle(context.Background(), events.SNSEvent{Records: []events.SNSEventRecord{
		{SNS: events.SNSEntity{MessageID: "n1", TopicArn: "arn:topic", Subject: "hello", Message: "world", Timestamp: time.Now()}},
	}})
	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}

func TestUnwrapNotification(t *testing.T) {
	t.Run("Envelope", func(t *testing.T) {
		payload, notification, err := unwrapNotification(`{"Type":"Notification","MessageId":"n1","TopicArn":"arn:topic","Message":"{\"id\":\"p-1\"}"}`)
		if err != nil {
			t.Fatalf("unwrapNotification failed: %v", err)
		}
		if payload.ID != "p-1" {
			t.Errorf("Expected payload id p-1, got %s", payload.ID)
		}
		if notification.MessageID != "n1" {
			t.Errorf("Expected notification id n1, got %s", notification.MessageID)
		}
	})

	t.Run("Raw delivery", func(t *testing.T) {
		payload, _, err := unwrapNotification(`{"id":"p-2"}`)
		if err != nil {
			t.Fatalf("unwrapNotification failed: %v", err)
		}
		if payload.ID != "p-2" {
			t.Errorf("Expected payload id p-2, got %s", payload.ID)
		}
	})

	invalid := map[string]string{
		"not JSON":            `nope`,
		"message not JSON":    `{"Type":"Notification","Message":"plain"}`,
		"payload without id":  `{"Type":"Notification","Message":"{\"name\":\"x\"}"}`,
		"raw without payload": `{}`,
	}
	for name, body := range invalid {
		t.Run(name, func(t *testing.T) {
			if _, _, err := unwrapNotification(body); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestEnvelopeHandler(t *testing.T) {
	handler := NewEnvelopeHandler(2, testLogger)

	resp, err := handler.Handle(context.Background(), events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "1", Body: `{"Type":"Notification","Message":"{\"id\":\"a\"}"}`},
		{MessageId: "2", Body: `{"Type":"Notification","Message":"{}"}`},
		{MessageId: "3", Body: `{"id":"c"}`},
	}})
	if err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if len(resp.BatchItemFailures) != 1 || resp.BatchItemFailures[0].ItemIdentifier != "2" {
		t.Errorf("Expected only message 2 to fail, got %+v", resp.BatchItemFailures)
	}
}
