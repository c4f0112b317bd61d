package aibridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog/log"
)

// NewOpenAIClient builds a client for OpenAI or a compatible gateway at baseURL.
func NewOpenAIClient(apiKey, baseURL string, extra ...option.RequestOption) openai.Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return openai.NewClient(append(opts, extra...)...)
}

// OpenAIResponder answers with chat completions, trying models in order.
type OpenAIResponder struct {
	client      openai.Client
	models      []string
	maxTokens   int64
	temperature float64
}

// NewOpenAIResponder returns a Responder over client.
func NewOpenAIResponder(client openai.Client, models []string) *OpenAIResponder {
	return &OpenAIResponder{client: client, models: models, maxTokens: 500, temperature: 0.7}
}

// Respond implements Responder.
func (r *OpenAIResponder) Respond(ctx context.Context, turns []Turn) (string, error) {
	if len(r.models) == 0 {
		return "", errors.New("no text models configured")
	}

	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case RoleSystem:
			msgs = append(msgs, openai.SystemMessage(t.Content))
		case RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(t.Content))
		default:
			msgs = append(msgs, openai.UserMessage(t.Content))
		}
	}

	var lastErr error
	for i, model := range r.models {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		resp, err := r.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model:       openai.ChatModel(model),
			Messages:    msgs,
			MaxTokens:   openai.Int(r.maxTokens),
			Temperature: openai.Float(r.temperature),
		})
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("model", model).Int("attempt", i+1).Msg("text model failed")
			continue
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			lastErr = fmt.Errorf("model %s returned no content", model)
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("all text models failed: %w", lastErr)
}

// OpenAIImageGenerator renders images, trying models in order.
type OpenAIImageGenerator struct {
	client openai.Client
	models []string
}

// NewOpenAIImageGenerator returns an ImageGenerator over client.
func NewOpenAIImageGenerator(client openai.Client, models []string) *OpenAIImageGenerator {
	return &OpenAIImageGenerator{client: client, models: models}
}

// Generate implements ImageGenerator. A provider 429 on the last attempt
// surfaces as ErrImageRateLimited.
func (g *OpenAIImageGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if len(g.models) == 0 {
		return "", fmt.Errorf("%w: no image models configured", ErrImageGeneration)
	}

	var lastErr error
	for i, model := range g.models {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		resp, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
			Prompt: prompt,
			Model:  openai.ImageModel(model),
			N:      openai.Int(1),
			Size:   openai.ImageGenerateParamsSize1024x1024,
		})
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("model", model).Int("attempt", i+1).Msg("image model failed")
			continue
		}
		if len(resp.Data) == 0 || resp.Data[0].URL == "" {
			lastErr = fmt.Errorf("model %s returned no image", model)
			continue
		}
		return resp.Data[0].URL, nil
	}

	var apiErr *openai.Error
	if errors.As(lastErr, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
		return "", ErrImageRateLimited
	}
	return "", fmt.Errorf("%w: %v", ErrImageGeneration, lastErr)
}
