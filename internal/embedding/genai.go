package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// Embedding task types accepted by the Gemini API.
const (
	taskTypeClassification     = "CLASSIFICATION"
	taskTypeClustering         = "CLUSTERING"
	taskTypeRetrievalDocument  = "RETRIEVAL_DOCUMENT"
	taskTypeRetrievalQuery     = "RETRIEVAL_QUERY"
	taskTypeCodeRetrievalQuery = "CODE_RETRIEVAL_QUERY"
	taskTypeQuestionAnswering  = "QUESTION_ANSWERING"
	taskTypeFactVerification   = "FACT_VERIFICATION"
	taskTypeSemanticSimilarity = "SEMANTIC_SIMILARITY"
)

// GenAIEngine generates embeddings using Google's Gemini API.
type GenAIEngine struct {
	client   *genai.Client
	model    string
	taskType string
}

// NewGenAIEngine creates a GenAI embedding engine.
func NewGenAIEngine(apiKey, model, taskType string) (*GenAIEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIEngine{
		client:   client,
		model:    model,
		taskType: normalizeTaskType(taskType),
	}, nil
}

func normalizeTaskType(taskType string) string {
	switch taskType {
	case taskTypeClassification,
		taskTypeClustering,
		taskTypeRetrievalDocument,
		taskTypeRetrievalQuery,
		taskTypeCodeRetrievalQuery,
		taskTypeQuestionAnswering,
		taskTypeFactVerification:
		return taskType
	default:
		return taskTypeSemanticSimilarity
	}
}

func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return vecs[0], nil
}

// EmbedBatch uses GenAI's native batch support.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents,
		&genai.EmbedContentConfig{TaskType: e.taskType})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}

	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		out[i] = emb.Values
	}
	return out, nil
}

// Dimensions reports gemini-embedding-001's native width.
func (e *GenAIEngine) Dimensions() int { return 768 }

func (e *GenAIEngine) Name() string { return "genai:" + e.model }
