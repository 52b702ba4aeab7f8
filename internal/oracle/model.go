package oracle

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/anonymous-cityseeker/CitySeeker/internal/graph"
)

var tracer = otel.Tracer("citynav/oracle")

// #region types
// ChatClient is the slice of the OpenAI client the model oracle uses.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ImageSource supplies image URLs (http or data URLs) for the model to look
// at. Panorama projection lives behind this interface.
type ImageSource interface {
	Panorama(ctx context.Context, vp graph.ViewPoint) (string, error)
	Perspective(ctx context.Context, vp graph.ViewPoint, heading float64) (string, error)
}

// ModelConfig configures a model-backed oracle.
type ModelConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float32
	RequestsPerSecond float64 // <= 0 disables rate limiting
	Burst             int
	BacktrackPrompt   bool // tell the model which image it walked back from
}

// Model asks a chat-completion model first whether to stop, then which
// perspective to take.
type Model struct {
	client  ChatClient
	cfg     ModelConfig
	images  ImageSource
	limiter *rate.Limiter
	logger  *zap.Logger
}

// #endregion types

// #region constructor
// NewModel connects to an OpenAI-compatible endpoint. images may be nil, in
// which case prompts are text only.
func NewModel(cfg ModelConfig, images ImageSource, logger *zap.Logger) (*Model, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("model oracle: API key not set")
	}
	if cfg.Model == "" {
		return nil, errors.New("model oracle: model name not set")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return NewModelWithClient(openai.NewClientWithConfig(oc), cfg, images, logger), nil
}

// NewModelWithClient builds a Model around an injected client.
func NewModelWithClient(client ChatClient, cfg ModelConfig, images ImageSource, logger *zap.Logger) *Model {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Model{
		client:  client,
		cfg:     cfg,
		images:  images,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.Named("model"),
	}
}

// #endregion constructor

// #region decide
func (m *Model) Decide(ctx context.Context, req Request) (Decision, error) {
	ctx, span := tracer.Start(ctx, "oracle.model.decide")
	defer span.End()
	span.SetAttributes(
		attribute.String("viewpoint", req.ViewPoint.Filename),
		attribute.Int("step", req.Step),
	)

	headings := req.ViewPoint.WalkableHeadings
	if len(headings) == 0 {
		err := fmt.Errorf("viewpoint %s has no walkable headings", req.ViewPoint.Filename)
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, err
	}

	stop := m.stopCheck(ctx, req)
	if stop.Stop {
		span.SetAttributes(attribute.Bool("stop", true))
		return Decision{Stop: true, Score: 1, Thought: stop.Thought, Observation: stop.Observation}, nil
	}

	var images []string
	if m.images != nil {
		for _, h := range headings {
			url, err := m.images.Perspective(ctx, req.ViewPoint, h)
			if err != nil {
				span.SetStatus(codes.Error, err.Error())
				return Decision{}, fmt.Errorf("perspective %s@%.1f: %w", req.ViewPoint.Filename, h, err)
			}
			images = append(images, url)
		}
	}
	text, err := m.complete(ctx, choicePrompt(req, m.cfg.BacktrackPrompt), images)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, err
	}
	raw, err := ParseChoice(text)
	if err != nil {
		m.logger.Debug("choice parse failed", zap.String("text", text), zap.Error(err))
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, err
	}
	d, err := ValidateChoice(raw, len(headings), m.logger)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Decision{}, err
	}
	d.Thought = stop.Thought
	if d.Thought == "" {
		d.Thought = raw.Thought
	}
	d.Observation = stop.Observation
	span.SetAttributes(attribute.Int("action", d.Action), attribute.Float64("score", d.Score))
	return d, nil
}

// stopCheck asks about the whole panorama. Any failure means keep walking.
func (m *Model) stopCheck(ctx context.Context, req Request) RawStop {
	var images []string
	if m.images != nil {
		url, err := m.images.Panorama(ctx, req.ViewPoint)
		if err != nil {
			m.logger.Warn("panorama unavailable, continuing", zap.String("viewpoint", req.ViewPoint.Filename), zap.Error(err))
			return RawStop{}
		}
		images = append(images, url)
	}
	text, err := m.complete(ctx, stopPrompt(req, m.cfg.BacktrackPrompt), images)
	if err != nil {
		m.logger.Warn("stop check failed, continuing", zap.Error(err))
		return RawStop{}
	}
	rs, err := ParseStop(text)
	if err != nil {
		m.logger.Warn("stop check unparseable, continuing", zap.String("text", text), zap.Error(err))
		return RawStop{}
	}
	return rs
}

func (m *Model) complete(ctx context.Context, prompt string, images []string) (string, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit: %w", err)
	}

	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if len(images) == 0 {
		msg.Content = prompt
	} else {
		msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: prompt})
		for i, url := range images {
			if len(images) > 1 {
				msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: "Image " + Letter(i) + ":"})
			}
			msg.MultiContent = append(msg.MultiContent, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: url},
			})
		}
	}

	resp, err := m.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       m.cfg.Model,
		Messages:    []openai.ChatCompletionMessage{msg},
		Temperature: m.cfg.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", formatErrorf("model returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// #endregion decide
