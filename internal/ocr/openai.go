package ocr

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/davebirr/WellMonitor-sub002/internal/config"
	"github.com/davebirr/WellMonitor-sub002/pkg/logger"
)

const openaiSystemPrompt = `You read the LED display of a well pump current monitor from a photo.
Respond with a single JSON object and nothing else:
{"text": "<exactly what the display shows>", "confidence": <0.0-1.0>}
The display shows either a current in amps (e.g. "4.2") or a status word
such as "Dry" or "rcyc". If the display is unreadable, use an empty text
and a low confidence.`

// OpenAIBackend extracts display text through the OpenAI vision API.
// Used as a cloud fallback when the offline engine cannot produce a
// result.
type OpenAIBackend struct {
	client openai.Client
	model  string
	logger *logger.Logger
}

// NewOpenAIBackend creates the cloud vision backend.
func NewOpenAIBackend(cfg config.OpenAIConfig, log *logger.Logger) *OpenAIBackend {
	return &OpenAIBackend{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		model:  cfg.Model,
		logger: log.Named("ocr-openai"),
	}
}

// Name implements Backend.
func (b *OpenAIBackend) Name() string { return "openai" }

// openaiResult is the structured response we ask the model for.
type openaiResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// TryExtract implements Backend.
func (b *OpenAIBackend) TryExtract(ctx context.Context, imageBytes []byte) (string, float64, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(imageBytes)

	completion, err := b.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(b.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(openaiSystemPrompt),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart("Read the pump display."),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}),
			}),
		},
	})
	if err != nil {
		return "", 0, fmt.Errorf("openai completion failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return "", 0, fmt.Errorf("openai returned no choices")
	}

	content := strings.TrimSpace(completion.Choices[0].Message.Content)
	content = stripCodeFence(content)

	var result openaiResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return "", 0, fmt.Errorf("failed to parse openai response %q: %w", content, err)
	}

	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}

	b.logger.Debug("OpenAI extraction",
		logger.String("text", result.Text),
		logger.Float64("confidence", result.Confidence))
	return result.Text, result.Confidence, nil
}

// stripCodeFence removes a markdown code fence the model sometimes
// wraps JSON in despite instructions.
func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
