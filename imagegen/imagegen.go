// Package imagegen turns a text prompt into a printable design image and a
// short product title.
package imagegen

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	openai "github.com/sashabaranov/go-openai"

	"github.com/vitwit/x402-checkout/logger"
	"github.com/vitwit/x402-checkout/retry"
)

const maxTitleLen = 60

// Generator produces a design image for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Image, error)
}

type Image struct {
	URL           string
	Title         string
	RevisedPrompt string
}

type Config struct {
	APIKey string
	// BaseURL overrides the OpenAI endpoint, e.g. for a proxy.
	BaseURL    string
	ImageModel string
	ChatModel  string
	Size       string
}

// OpenAIGenerator generates images with the OpenAI images API and titles
// with a chat completion. Image generation is retried under ImagePolicy;
// a failed title falls back to the truncated prompt.
type OpenAIGenerator struct {
	ImagePolicy retry.Policy
	TitlePolicy retry.Policy

	client     *openai.Client
	imageModel string
	chatModel  string
	size       string
	logger     logger.Logger
	opts       []retry.Option
}

var _ Generator = (*OpenAIGenerator)(nil)

func NewOpenAIGenerator(cfg Config, l logger.Logger, opts ...retry.Option) *OpenAIGenerator {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	g := &OpenAIGenerator{
		ImagePolicy: retry.SlowGeneration(),
		TitlePolicy: retry.FastAPI(),
		client:      openai.NewClientWithConfig(oc),
		imageModel:  cfg.ImageModel,
		chatModel:   cfg.ChatModel,
		size:        cfg.Size,
		logger:      logger.OrNoop(l),
	}
	if g.imageModel == "" {
		g.imageModel = openai.CreateImageModelDallE3
	}
	if g.chatModel == "" {
		g.chatModel = openai.GPT4oMini
	}
	if g.size == "" {
		g.size = openai.CreateImageSize1024x1024
	}
	g.opts = append([]retry.Option{retry.WithLogger(g.logger)}, opts...)
	return g
}

func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (*Image, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, retry.ValidationError("imagegen.generate", errors.New("prompt is required"))
	}

	resp, err := retry.Do(ctx, g.ImagePolicy, "imagegen.image", func(ctx context.Context) (openai.ImageResponse, error) {
		resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
			Prompt:         prompt,
			Model:          g.imageModel,
			N:              1,
			Size:           g.size,
			ResponseFormat: openai.CreateImageResponseFormatURL,
		})
		if err != nil {
			return resp, classify("imagegen.image", err)
		}
		if len(resp.Data) == 0 || resp.Data[0].URL == "" {
			return resp, retry.ValidationError("imagegen.image", errors.New("no image returned"))
		}
		return resp, nil
	}, g.opts...)
	if err != nil {
		return nil, err
	}

	return &Image{
		URL:           resp.Data[0].URL,
		Title:         g.title(ctx, prompt),
		RevisedPrompt: resp.Data[0].RevisedPrompt,
	}, nil
}

func (g *OpenAIGenerator) title(ctx context.Context, prompt string) string {
	title, err := retry.Do(ctx, g.TitlePolicy, "imagegen.title", func(ctx context.Context) (string, error) {
		resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:     g.chatModel,
			MaxTokens: 24,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: "You name t-shirt designs. Reply with a catchy product title of at most six words, without quotes.",
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
		})
		if err != nil {
			return "", classify("imagegen.title", err)
		}
		if len(resp.Choices) == 0 {
			return "", retry.ValidationError("imagegen.title", errors.New("no title returned"))
		}
		return cleanTitle(resp.Choices[0].Message.Content), nil
	}, g.opts...)
	if err != nil || title == "" {
		g.logger.Warn("title generation failed, using prompt", map[string]any{"error": err})
		return Truncate(prompt, maxTitleLen)
	}
	return Truncate(title, maxTitleLen)
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, "\"'“”")
	return strings.TrimSpace(s)
}

// Truncate shortens s to at most n runes, cutting at a word boundary when
// one exists and appending "...".
func Truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)[:n-3]
	cut := string(r)
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " ,.;:-") + "..."
}

// classify maps OpenAI API failures onto retry errors so the status code
// drives the retry decision.
func classify(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return retry.HTTPError(op, apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		msg := ""
		if reqErr.Err != nil {
			msg = reqErr.Err.Error()
		}
		return retry.HTTPError(op, reqErr.HTTPStatusCode, msg)
	}
	return err
}
