package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"github.com/w-h-a/workmem/generator"
	genaiopt "google.golang.org/api/option"
)

type googleGenerator struct {
	options generator.Options
	client  *genai.Client
}

func (g *googleGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	model := g.client.GenerativeModel(g.options.Model)
	model.SetMaxOutputTokens(int32(g.options.MaxTokens))
	model.SetTemperature(g.options.Temperature)

	if len(g.options.System) > 0 {
		model.SystemInstruction = genai.NewUserContent(genai.Text(g.options.System))
	}

	rsp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("google generate content: %w", err)
	}

	if len(rsp.Candidates) == 0 || rsp.Candidates[0].Content == nil || len(rsp.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("no response from Google")
	}

	var b strings.Builder
	for _, part := range rsp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}

	return b.String(), nil
}

func NewGenerator(opts ...generator.Option) generator.Generator {
	options := generator.NewOptions(opts...)

	if len(options.Model) == 0 {
		options.Model = "gemini-1.5-flash"
	}

	g := &googleGenerator{
		options: options,
	}

	client, err := genai.NewClient(
		options.Context,
		genaiopt.WithAPIKey(options.ApiKey),
	)
	if err != nil {
		slog.ErrorContext(options.Context, "failed to create google client", "error", err)
		panic(err)
	}

	g.client = client

	return g
}
