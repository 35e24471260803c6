package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"github.com/w-h-a/workmem/memory_manager/providers/embedder"
	genaiopt "google.golang.org/api/option"
)

type googleEmbedder struct {
	options embedder.Options
	client  *genai.Client
}

func (e *googleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	model := e.client.EmbeddingModel(e.options.Model)
	model.TaskType = genai.TaskTypeSemanticSimilarity

	rsp, err := model.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, fmt.Errorf("google embeddings: %w", err)
	}

	if rsp == nil || rsp.Embedding == nil || len(rsp.Embedding.Values) == 0 {
		return nil, errors.New("no response from Google")
	}

	return rsp.Embedding.Values, nil
}

func NewEmbedder(opts ...embedder.Option) embedder.Embedder {
	options := embedder.NewOptions(opts...)

	if len(options.Model) == 0 {
		options.Model = "text-embedding-004"
	}

	e := &googleEmbedder{
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

	e.client = client

	return e
}
