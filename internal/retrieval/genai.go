package retrieval

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"smartbi/internal/domain"
)

const defaultGenAIModel = "gemini-embedding-001"

// GenAIConfig configures the Gemini embedding backend.
type GenAIConfig struct {
	APIKey string
	Model  string
	// TaskType is passed through, e.g. SEMANTIC_SIMILARITY or RETRIEVAL_QUERY.
	TaskType string
	// BaseURL overrides the API endpoint; empty uses the SDK default.
	BaseURL string
}

// GenAIEmbedder generates embeddings with Google's Gemini API.
type GenAIEmbedder struct {
	client   *genai.Client
	model    string
	taskType string
}

var _ domain.Embedder = (*GenAIEmbedder)(nil)

// NewGenAIEmbedder creates a Gemini client for embeddings.
func NewGenAIEmbedder(ctx context.Context, cfg GenAIConfig) (*GenAIEmbedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, domain.ErrValidation("genai API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = defaultGenAIModel
	}
	taskType := strings.ToUpper(strings.TrimSpace(cfg.TaskType))
	if taskType == "" {
		taskType = "SEMANTIC_SIMILARITY"
	}

	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIEmbedder{client: client, model: model, taskType: taskType}, nil
}

// Embed sends all texts in one batch request.
func (e *GenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: e.taskType,
	})
	if err != nil {
		return nil, fmt.Errorf("genai embed: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("genai embed: got %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("genai embed: missing embedding for input %d", i)
		}
		out[i] = emb.Values
	}
	return out, nil
}
