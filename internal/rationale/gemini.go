package rationale

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"

	"github.com/hyperjump/setsumei/internal/models"
)

// GeminiOptions configures the Gemini generator.
type GeminiOptions struct {
	APIKey            string
	Model             string
	RequestsPerMinute int
	MaxOutputTokens   int32
	Logger            *zap.Logger
}

// Gemini generates rationales with the Gemini API behind a rate limiter and a
// circuit breaker.
type Gemini struct {
	client  *genai.Client
	model   string
	maxOut  int32
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGemini creates a Gemini client.
func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if opts.Model == "" {
		opts.Model = "gemini-2.0-flash"
	}
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 60
	}
	if opts.MaxOutputTokens <= 0 {
		opts.MaxOutputTokens = 256
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	burst := opts.RequestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &Gemini{
		client:  client,
		model:   opts.Model,
		maxOut:  opts.MaxOutputTokens,
		limiter: rate.NewLimiter(rate.Limit(float64(opts.RequestsPerMinute)/60.0), burst),
		breaker: newBreaker("gemini", logger),
	}, nil
}

func newBreaker(name string, logger *zap.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// Generate returns the model's text for prompt.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	ctx, span := otel.Tracer("github.com/hyperjump/setsumei/rationale").Start(ctx, "gemini.generate",
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("gemini.model", g.model), attribute.Int("gemini.prompt_chars", len(prompt)))

	if err := g.limiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("gemini.rate_limited", true))
		return "", fmt.Errorf("%w: %w", models.ErrUpstreamTimeout, err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		model := g.client.GenerativeModel(g.model)
		model.SetTemperature(0.2)
		model.SetMaxOutputTokens(g.maxOut)
		resp, err := model.GenerateContent(ctx, genai.Text(prompt))
		if err != nil {
			return nil, err
		}
		return responseText(resp), nil
	})
	if err != nil {
		span.SetAttributes(attribute.Bool("gemini.error", true))
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %w", models.ErrUpstreamTimeout, err)
		}
		return "", fmt.Errorf("%w: %w", models.ErrUpstreamError, err)
	}
	text := result.(string)
	if text == "" {
		return "", fmt.Errorf("%w: empty gemini response", models.ErrUpstreamError)
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var b strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if t, ok := part.(genai.Text); ok {
				b.WriteString(string(t))
			}
		}
		break
	}
	return b.String()
}

// Close releases the client.
func (g *Gemini) Close() error {
	return g.client.Close()
}
