// Convenience Client-adapter constructors for the supported provider SDKs:
// each wraps a raw provider client call behind the uniform Task interface
// so a caller can hand the Evaluator an unmodified SDK client instead of
// writing a shim by hand. They are thin: all blocking-detection, tracing,
// and scoring behavior flows through the same paths as any other Task.
package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/goccy/go-json"
	"github.com/openai/openai-go"
)

// AnthropicCompletion is the shape of the Anthropic Messages.New call this
// wrapper drives; pass client.Messages.New bound to a real anthropic.Client.
type AnthropicCompletion func(ctx context.Context, req anthropic.MessageNewParams) (*anthropic.Message, error)

type anthropicTask struct {
	call     AnthropicCompletion
	template anthropic.MessageNewParams
}

// NewAnthropicTask adapts an Anthropic Messages completion call into a Task.
// template supplies the fixed request shape (MaxTokens, System, etc.); each
// invocation appends the item's input as a single user message and
// overrides Model when the run specifies one.
func NewAnthropicTask(call AnthropicCompletion, template anthropic.MessageNewParams) Task {
	return &anthropicTask{call: call, template: template}
}

func (t *anthropicTask) Invoke(ctx context.Context, call Call) (any, error) {
	req := t.template
	if call.Model != "" {
		req.Model = anthropic.Model(call.Model)
	}
	text, err := toPromptText(call.Input)
	if err != nil {
		return nil, err
	}
	req.Messages = append(append([]anthropic.MessageParam{}, req.Messages...),
		anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
	return t.call(ctx, req)
}

// OpenAICompletion is the shape of the OpenAI Chat Completions call this
// wrapper drives; pass client.Chat.Completions.New bound to a real
// openai.Client.
type OpenAICompletion func(ctx context.Context, req openai.ChatCompletionNewParams) (*openai.ChatCompletion, error)

type openAITask struct {
	call     OpenAICompletion
	template openai.ChatCompletionNewParams
}

// NewOpenAITask adapts an OpenAI Chat Completions call into a Task.
func NewOpenAITask(call OpenAICompletion, template openai.ChatCompletionNewParams) Task {
	return &openAITask{call: call, template: template}
}

func (t *openAITask) Invoke(ctx context.Context, call Call) (any, error) {
	req := t.template
	if call.Model != "" {
		req.Model = openai.ChatModel(call.Model)
	}
	text, err := toPromptText(call.Input)
	if err != nil {
		return nil, err
	}
	req.Messages = append(append([]openai.ChatCompletionMessageParamUnion{}, req.Messages...),
		openai.UserMessage(text))
	return t.call(ctx, req)
}

// BedrockInvoker is the shape of the Bedrock InvokeModel call this wrapper
// drives; pass client.InvokeModel bound to a real bedrockruntime.Client.
type BedrockInvoker func(ctx context.Context, in *bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error)

type bedrockTask struct {
	invoke      BedrockInvoker
	modelID     string
	contentType string
}

// NewBedrockTask adapts a Bedrock InvokeModel call into a Task. The item
// input is JSON-encoded as the request body verbatim (Bedrock's per-model
// request schemas vary, so the caller's input is expected to already be
// shaped for the target model).
func NewBedrockTask(invoke BedrockInvoker, modelID string) Task {
	return &bedrockTask{invoke: invoke, modelID: modelID, contentType: "application/json"}
}

func (t *bedrockTask) Invoke(ctx context.Context, call Call) (any, error) {
	body, err := json.Marshal(call.Input)
	if err != nil {
		return nil, err
	}
	modelID := t.modelID
	if call.Model != "" {
		modelID = call.Model
	}
	out, err := t.invoke(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String(t.contentType),
		Body:        body,
	})
	if err != nil {
		return nil, classifyBedrockError(err)
	}
	var decoded any
	if err := json.Unmarshal(out.Body, &decoded); err != nil {
		return out.Body, nil
	}
	return decoded, nil
}

// classifyBedrockError tags a Bedrock invocation failure with whether the
// caller should retry: ThrottlingException, ServiceUnavailableException and
// ModelTimeoutException are transient, everything else (validation,
// access-denied) is not.
// Inspects the structured smithy.APIError code rather than guessing from
// the error string.
func classifyBedrockError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "ThrottlingException", "ServiceUnavailableException", "ModelTimeoutException":
		return fmt.Errorf("adapter: bedrock %s (retryable): %w", apiErr.ErrorCode(), err)
	default:
		return fmt.Errorf("adapter: bedrock %s: %w", apiErr.ErrorCode(), err)
	}
}

func toPromptText(input any) (string, error) {
	if s, ok := input.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
