// Package bedrock wraps the Bedrock Converse APIs used by the handlers: a
// one-shot text completion, an image description and a token stream that
// plugs into the relay.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"lambda-event-patterns/internal/config"
)

// API is the subset of the Bedrock runtime client used here
type API interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// ErrEmptyCompletion is returned when the model answered without any text
var ErrEmptyCompletion = errors.New("model returned no text")

// Model binds a Bedrock client to one model and its inference settings
type Model struct {
	api         API
	modelID     string
	maxTokens   int32
	temperature float32
}

// NewModel creates a Model from the Bedrock section of the configuration
func NewModel(api API, cfg config.BedrockConfig) *Model {
	return &Model{
		api:         api,
		modelID:     cfg.ModelID,
		maxTokens:   int32(cfg.MaxTokens),
		temperature: float32(cfg.Temperature),
	}
}

// ID returns the model identifier
func (m *Model) ID() string { return m.modelID }

func (m *Model) inference() *types.InferenceConfiguration {
	inf := &types.InferenceConfiguration{Temperature: aws.Float32(m.temperature)}
	if m.maxTokens > 0 {
		inf.MaxTokens = aws.Int32(m.maxTokens)
	}
	return inf
}

func userMessage(blocks ...types.ContentBlock) []types.Message {
	return []types.Message{{Role: types.ConversationRoleUser, Content: blocks}}
}

// Complete sends prompt and returns the text of the answer
func (m *Model) Complete(ctx context.Context, prompt string) (string, error) {
	return m.converse(ctx, &types.ContentBlockMemberText{Value: prompt})
}

// DescribeImage sends an image together with an instruction and returns the
// text of the answer
func (m *Model) DescribeImage(ctx context.Context, prompt string, format types.ImageFormat, image []byte) (string, error) {
	return m.converse(ctx,
		&types.ContentBlockMemberImage{Value: types.ImageBlock{
			Format: format,
			Source: &types.ImageSourceMemberBytes{Value: image},
		}},
		&types.ContentBlockMemberText{Value: prompt},
	)
}

func (m *Model) converse(ctx context.Context, blocks ...types.ContentBlock) (string, error) {
	out, err := m.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(m.modelID),
		Messages:        userMessage(blocks...),
		InferenceConfig: m.inference(),
	})
	if err != nil {
		return "", fmt.Errorf("converse with %s: %w", m.modelID, err)
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return "", ErrEmptyCompletion
	}

	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}
	if sb.Len() == 0 {
		return "", ErrEmptyCompletion
	}
	return sb.String(), nil
}

// Stream starts a streaming conversation and returns the event reader.
// The caller owns the reader and must close it.
func (m *Model) Stream(ctx context.Context, prompt string) (EventReader, error) {
	out, err := m.api.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(m.modelID),
		Messages:        userMessage(&types.ContentBlockMemberText{Value: prompt}),
		InferenceConfig: m.inference(),
	})
	if err != nil {
		return nil, fmt.Errorf("converse stream with %s: %w", m.modelID, err)
	}
	return out.GetStream(), nil
}

// ImageFormatForKey maps an object key extension to a Bedrock image format.
// Only JPEG and PNG are accepted.
func ImageFormatForKey(key string) (types.ImageFormat, bool) {
	switch strings.ToLower(path.Ext(key)) {
	case ".jpg", ".jpeg":
		return types.ImageFormatJpeg, true
	case ".png":
		return types.ImageFormatPng, true
	default:
		return "", false
	}
}
