// Package scoring は診断リクエストを生成AIで分析し、キャリア候補と大学推薦を得る。
package scoring

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Generator はモデル名とプロンプトからテキストを生成するインターフェース。
// wantJSONがtrueの場合はJSONのみを返すようモデルに指示する。
type Generator interface {
	Generate(ctx context.Context, modelName, prompt string, wantJSON bool) (string, error)
}

// GeminiClient はGoogle Geminiを使用したGenerator実装。
type GeminiClient struct {
	client      *genai.Client
	temperature float32
}

// NewGeminiClient はAPIキーでGeminiクライアントを生成する。
func NewGeminiClient(ctx context.Context, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{client: client, temperature: 0.4}, nil
}

// Generate は指定モデルでコンテンツを生成する。
func (c *GeminiClient) Generate(ctx context.Context, modelName, prompt string, wantJSON bool) (string, error) {
	if modelName == "" {
		return "", fmt.Errorf("model name is required")
	}

	model := c.client.GenerativeModel(modelName)
	model.SetTemperature(c.temperature)
	if wantJSON {
		model.ResponseMIMEType = "application/json"
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	return extractText(resp)
}

// Close はクライアントのリソースを解放する。
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractText は最初の候補のテキストパートを連結して返す。
func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response (finish reason: %s)", candidate.FinishReason)
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}

	return strings.Join(parts, ""), nil
}

// compile-time interface check
var _ Generator = (*GeminiClient)(nil)
