package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"github.com/w-h-a/workmem/generator"
)

type openAIGenerator struct {
	options generator.Options
	client  *openai.Client
}

func (g *openAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)

	if len(g.options.System) > 0 {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: g.options.System,
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	req := openai.ChatCompletionRequest{
		Model:       g.options.Model,
		Messages:    messages,
		MaxTokens:   g.options.MaxTokens,
		Temperature: g.options.Temperature,
	}

	rsp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}

	if len(rsp.Choices) == 0 || len(rsp.Choices[0].Message.Content) == 0 {
		return "", errors.New("no response from OpenAI")
	}

	return rsp.Choices[0].Message.Content, nil
}

func NewGenerator(opts ...generator.Option) generator.Generator {
	options := generator.NewOptions(opts...)

	if len(options.Model) == 0 {
		options.Model = openai.GPT4oMini
	}

	g := &openAIGenerator{
		options: options,
	}

	cfg := openai.DefaultConfig(options.ApiKey)
	if len(options.BaseURL) > 0 {
		cfg.BaseURL = options.BaseURL
	}

	g.client = openai.NewClientWithConfig(cfg)

	return g
}
