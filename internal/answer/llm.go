package answer

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/ada/internal/document"
	"github.com/ChamsBouzaiene/ada/internal/llm"
	"github.com/ChamsBouzaiene/ada/internal/prompts"
)

// Audience tailors generated answers to the reader.
type Audience struct {
	Age           int
	Experience    string
	MinReferences int
}

// DefaultAudience matches the backend's defaults.
func DefaultAudience() Audience {
	return Audience{Age: 25, Experience: "Average American", MinReferences: 3}
}

// LLMService generates answer documents directly with a chat model.
type LLMService struct {
	client   llm.Client
	model    string
	audience Audience
	opts     llm.Options
	logger   *zap.Logger
}

// LLMOption configures an LLMService.
type LLMOption func(*LLMService)

// WithAudience sets who answers are written for.
func WithAudience(a Audience) LLMOption {
	return func(s *LLMService) { s.audience = a }
}

// WithChatOptions overrides sampling options.
func WithChatOptions(o llm.Options) LLMOption {
	return func(s *LLMService) { s.opts = o }
}

// WithLLMLogger sets the logger.
func WithLLMLogger(l *zap.Logger) LLMOption {
	return func(s *LLMService) { s.logger = l }
}

// NewLLMService creates a service that asks client using model.
func NewLLMService(client llm.Client, model string, opts ...LLMOption) *LLMService {
	s := &LLMService{
		client:   client,
		model:    model,
		audience: DefaultAudience(),
		opts:     llm.Options{Temperature: 0.3, MaxOutputTokens: 4096},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model returns the model name in use.
func (s *LLMService) Model() string {
	return s.model
}

// SystemPrompt renders the article prompt for the configured audience.
func (s *LLMService) SystemPrompt() (string, error) {
	a := s.audience
	if a.MinReferences <= 0 {
		a.MinReferences = 1
	}
	if a.Experience == "" {
		a.Experience = DefaultAudience().Experience
	}
	b, err := prompts.NewBuilder(prompts.DefaultRegistry(), prompts.AnswerArticle, prompts.V1)
	if err != nil {
		return "", err
	}
	return b.Set("min_references", strconv.Itoa(a.MinReferences)).
		Set("age", strconv.Itoa(a.Age)).
		Set("experience", a.Experience).
		Build()
}

func repairPrompt(problems error) (string, error) {
	b, err := prompts.NewBuilder(prompts.DefaultRegistry(), prompts.AnswerRepair, prompts.V1)
	if err != nil {
		return "", err
	}
	return b.Set("problems", problems.Error()).Build()
}

// Ask implements Service.
func (s *LLMService) Ask(ctx context.Context, question string) (*document.Document, error) {
	system, err := s.SystemPrompt()
	if err != nil {
		return nil, Transport(err)
	}

	start := time.Now()
	resp, err := s.client.Chat(ctx, s.model, []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: question},
	}, s.opts)
	if err != nil {
		return nil, providerFailure(ctx, err)
	}
	if resp.FinishReason == "content_filter" {
		return nil, Application(0, "the model declined to answer this question")
	}

	s.logger.Debug("llm answer received",
		zap.String("model", s.model),
		zap.Int("tokens", resp.Usage.Total),
		zap.Duration("elapsed", time.Since(start)))

	doc, perr := document.Parse([]byte(extractJSON(resp.Content)))
	if perr == nil {
		return doc, nil
	}

	// One repair pass for output that is almost valid.
	s.logger.Warn("llm answer failed validation, asking for a repair", zap.Error(perr))
	repair, err := repairPrompt(perr)
	if err != nil {
		return nil, Malformed(perr)
	}
	fixed, err := s.client.Chat(ctx, s.model, []llm.Message{
		{Role: llm.RoleSystem, Content: repair},
		{Role: llm.RoleUser, Content: resp.Content},
	}, s.opts)
	if err != nil {
		return nil, providerFailure(ctx, err)
	}
	doc, err = document.Parse([]byte(extractJSON(fixed.Content)))
	if err != nil {
		return nil, Malformed(err)
	}
	return doc, nil
}

// providerFailure maps a provider error onto the answer taxonomy.
func providerFailure(ctx context.Context, err error) *Error {
	if ctx.Err() != nil {
		return Transport(ctx.Err())
	}
	var perr *llm.ProviderError
	if errors.As(err, &perr) {
		if perr.IsAuth || perr.IsQuota || perr.IsRefusal ||
			(perr.HTTPStatus >= 400 && perr.HTTPStatus < 500 && !perr.IsRateLimit) {
			return &Error{Kind: KindApplication, Status: perr.HTTPStatus, Reason: err.Error(), Err: err}
		}
	}
	return Transport(err)
}

// extractJSON trims code fences and prose around the outermost JSON object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end < start {
		return s
	}
	candidate := s[start : end+1]
	if json.Valid([]byte(candidate)) {
		return candidate
	}
	return s
}
