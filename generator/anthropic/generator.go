package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/w-h-a/workmem/generator"
)

type anthropicGenerator struct {
	options generator.Options
	client  *anthropic.Client
}

func (g *anthropicGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	req := anthropic.MessageNewParams{
		Model:       anthropic.Model(g.options.Model),
		MaxTokens:   int64(g.options.MaxTokens),
		Temperature: anthropic.Float(float64(g.options.Temperature)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}

	if len(g.options.System) > 0 {
		req.System = []anthropic.TextBlockParam{
			{Text: g.options.System},
		}
	}

	rsp, err := g.client.Messages.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("anthropic messages: %w", err)
	}

	var b strings.Builder
	for _, content := range rsp.Content {
		if text, ok := content.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(text.Text)
		}
	}

	result := b.String()
	if len(result) == 0 {
		return "", errors.New("no response from Anthropic")
	}

	return result, nil
}

func NewGenerator(opts ...generator.Option) generator.Generator {
	options := generator.NewOptions(opts...)

	if len(options.Model) == 0 {
		options.Model = "claude-3-5-haiku-latest"
	}

	g := &anthropicGenerator{
		options: options,
	}

	clientOpts := []anthropicopt.RequestOption{
		anthropicopt.WithAPIKey(options.ApiKey),
	}
	if len(options.BaseURL) > 0 {
		clientOpts = append(clientOpts, anthropicopt.WithBaseURL(options.BaseURL))
	}

	client := anthropic.NewClient(clientOpts...)

	g.client = &client

	return g
}
