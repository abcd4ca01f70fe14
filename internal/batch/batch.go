// Package batch runs per-record work for batch event sources and builds the
// partial-failure responses Lambda uses to redeliver only failed records.
package batch

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome of processing one record
type Result struct {
	ID  string
	Err error
}

// Failed reports whether the record failed
func (r Result) Failed() bool { return r.Err != nil }

// Process runs fn once per item concurrently and returns one Result per item,
// in input order. At most limit tasks run at once when limit > 0.
//
// A failing item never cancels the others. Each task only writes its own
// slot, so results are merged without locking once every task has finished.
func Process[T any](ctx context.Context, items []T, id func(T) string, fn func(context.Context, T) error, limit int) []Result {
	results := make([]Result, len(items))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			results[i] = Result{ID: id(item), Err: safeCall(ctx, fn, item)}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// ProcessInOrder runs fn sequentially and stops at the first failure.
// Records after the failing one are not attempted and not reported; stream
// sources resume from the reported record.
func ProcessInOrder[T any](ctx context.Context, items []T, id func(T) string, fn func(context.Context, T) error) []Result {
	results := make([]Result, 0, len(items))
	for _, item := range items {
		err := safeCall(ctx, fn, item)
		results = append(results, Result{ID: id(item), Err: err})
		if err != nil {
			break
		}
	}
	return results
}

// safeCall turns a panic in fn into a record failure
func safeCall[T any](ctx context.Context, fn func(context.Context, T) error, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("record handler panicked: %v", r)
		}
	}()
	return fn(ctx, item)
}

// Failures returns the identifiers of the failed results
func Failures(results []Result) []string {
	var ids []string
	for _, r := range results {
		if r.Failed() {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

// Succeeded counts the successful results
func Succeeded(results []Result) int {
	n := 0
	for _, r := range results {
		if !r.Failed() {
			n++
		}
	}
	return n
}

// SQSResponse builds the SQS partial batch response for results
func SQSResponse(results []Result) events.SQSEventResponse {
	resp := events.SQSEventResponse{BatchItemFailures: []events.SQSBatchItemFailure{}}
	for _, id := range Failures(results) {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: id})
	}
	return resp
}

// DynamoDBResponse builds the DynamoDB Streams partial batch response for
// results. Identifiers are stream sequence numbers.
func DynamoDBResponse(results []Result) events.DynamoDBEventResponse {
	resp := events.DynamoDBEventResponse{BatchItemFailures: []events.DynamoDBBatchItemFailure{}}
	for _, id := range Failures(results) {
		resp.BatchItemFailures = append(resp.BatchItemFailures, events.DynamoDBBatchItemFailure{ItemIdentifier: id})
	}
	return resp
}

// SQSMessageID identifies an SQS record
func SQSMessageID(m events.SQSMessage) string { return m.MessageId }

// DynamoDBSequenceNumber identifies a DynamoDB stream record
func DynamoDBSequenceNumber(r events.DynamoDBEventRecord) string { return r.Change.SequenceNumber }
