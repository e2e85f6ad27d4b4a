package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harunnryd/tutur/pkg/errorsx"
	"github.com/harunnryd/tutur/pkg/llm"
	"github.com/harunnryd/tutur/pkg/transcript"
	openai "github.com/sashabaranov/go-openai"
)

// ChatClient captures the subset of the go-openai client used by Completion.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (
		openai.ChatCompletionResponse, error)
}

type CompletionOptions struct {
	Client ChatClient
	// Model is the model id, or the deployment name on Azure.
	Model       string
	Temperature float32
	TopP        float32
	MaxTokens   int
}

// Completion is the synchronous strategy: one request carrying the full
// history, one reply. It does not retry.
type Completion struct {
	chat ChatClient
	opts CompletionOptions
}

func NewCompletion(opts CompletionOptions) (*Completion, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("model is required")
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 800
	}
	return &Completion{chat: opts.Client, opts: opts}, nil
}

func (c *Completion) Name() string { return "openai_completion" }

func (c *Completion) Converse(ctx context.Context, history []transcript.Turn) (string, error) {
	if len(history) == 0 {
		return "", errorsx.NewFatal(errorsx.ReasonBackendRequest, errors.New("history is empty"))
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(history))
	for _, t := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: chatRole(t.Role), Content: t.Content})
	}
	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.opts.Model,
		Messages:    messages,
		Temperature: c.opts.Temperature,
		TopP:        c.opts.TopP,
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		return "", classify(fmt.Errorf("openai chat completion: %w", err), errorsx.ReasonBackendRequest)
	}
	if len(resp.Choices) == 0 {
		return "", errorsx.NewTransient(errorsx.ReasonBackendMalformed, errors.New("completion has no choices"))
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", errorsx.NewTransient(errorsx.ReasonBackendMalformed, errors.New("completion content is empty"))
	}
	return text, nil
}

func chatRole(r transcript.Role) string {
	switch r {
	case transcript.RoleSystem:
		return openai.ChatMessageRoleSystem
	case transcript.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

var _ llm.Backend = (*Completion)(nil)
