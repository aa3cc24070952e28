// Package assistant summarizes a chat transcript and suggests replies using
// the Gemini API through google.golang.org/genai.
//
// The assistant is advisory: its results never change session state, and a
// failed request only yields a placeholder text or an empty suggestion list.
package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/genai"

	"github.com/rescp17/peerCall/pkg/concurrency"
	"github.com/rescp17/peerCall/pkg/session"
)

const (
	defaultModel = "gemini-2.5-flash"

	NoHistoryText     = "No conversation history to summarize."
	EmptySummaryText  = "Failed to generate summary."
	SummaryFailedText = "Error generating summary."

	summaryInstruction = "You are a helpful assistant providing brief, bulleted summaries of peer-to-peer conversations."
	summaryTemperature = 0.7

	maxSuggestions    = 3
	suggestionContext = 5
)

var (
	ErrAssistantDisabled = errors.New("assistant disabled: no API key configured")
	ErrBusy              = concurrency.ErrBusy
)

// generator is the part of genai.Models the assistant calls.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Assistant struct {
	gen    generator
	model  string
	guard  *concurrency.Guard
	tracer trace.Tracer
	logger *slog.Logger
}

type Option func(*Assistant)

// WithModel sets the Gemini model ID.
func WithModel(model string) Option {
	return func(a *Assistant) {
		if model != "" {
			a.model = model
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(a *Assistant) { a.tracer = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Assistant) { a.logger = l }
}

func withGenerator(g generator) Option {
	return func(a *Assistant) { a.gen = g }
}

// New creates an assistant. An empty apiKey yields a disabled assistant whose
// requests fail with ErrAssistantDisabled.
func New(ctx context.Context, apiKey string, opts ...Option) (*Assistant, error) {
	a := &Assistant{
		model:  defaultModel,
		guard:  concurrency.NewGuard(),
		tracer: noop.NewTracerProvider().Tracer("assistant"),
		logger: slog.Default().With("module", "assistant"),
	}
	for _, o := range opts {
		o(a)
	}
	if a.gen != nil || apiKey == "" {
		return a, nil
	}

	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	a.gen = gc.Models
	return a, nil
}

func (a *Assistant) Enabled() bool { return a.gen != nil }

// Summarize returns a short bulleted summary of the non-assistant entries of history.
func (a *Assistant) Summarize(ctx context.Context, history []session.ChatMessage) (string, error) {
	if !a.Enabled() {
		return "", ErrAssistantDisabled
	}
	var lines []string
	for _, m := range history {
		if m.Sender == session.SenderAssistant {
			continue
		}
		lines = append(lines, line(m))
	}
	if len(lines) == 0 {
		return NoHistoryText, nil
	}

	var summary string
	err := a.guard.Execute(func() error {
		ctx, span := a.tracer.Start(ctx, "assistant.summarize",
			trace.WithAttributes(attribute.String("model", a.model), attribute.Int("messages", len(lines))))
		defer span.End()

		prompt := "Summarize this chat conversation concisely:\n\n" + strings.Join(lines, "\n")
		resp, err := a.gen.GenerateContent(ctx, a.model, genai.Text(prompt), &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: summaryInstruction}}},
			Temperature:       genai.Ptr[float32](summaryTemperature),
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "generate summary")
			return err
		}
		summary = strings.TrimSpace(resp.Text())
		return nil
	})
	switch {
	case errors.Is(err, ErrBusy):
		return "", err
	case err != nil:
		a.logger.Error("Summary request failed", "error", err)
		return SummaryFailedText, fmt.Errorf("summarize: %w", err)
	case summary == "":
		return EmptySummaryText, nil
	}
	return summary, nil
}

type suggestionsReply struct {
	Suggestions []string `json:"suggestions"`
}

var suggestionsSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"suggestions": {
			Type:  genai.TypeArray,
			Items: &genai.Schema{Type: genai.TypeString},
		},
	},
	Required: []string{"suggestions"},
}

// SuggestReplies proposes up to three short replies for the local user based
// on the last few transcript entries. On failure it returns an empty list.
func (a *Assistant) SuggestReplies(ctx context.Context, history []session.ChatMessage) ([]string, error) {
	if !a.Enabled() {
		return []string{}, ErrAssistantDisabled
	}
	if len(history) > suggestionContext {
		history = history[len(history)-suggestionContext:]
	}
	lines := make([]string, 0, len(history))
	for _, m := range history {
		lines = append(lines, line(m))
	}

	var reply suggestionsReply
	err := a.guard.Execute(func() error {
		ctx, span := a.tracer.Start(ctx, "assistant.suggest",
			trace.WithAttributes(attribute.String("model", a.model), attribute.Int("messages", len(lines))))
		defer span.End()

		prompt := "Based on this conversation, suggest 3 short, natural reply suggestions for 'me'.\n\n" + strings.Join(lines, "\n")
		resp, err := a.gen.GenerateContent(ctx, a.model, genai.Text(prompt), &genai.GenerateContentConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   suggestionsSchema,
		})
		if err == nil {
			text := resp.Text()
			if text == "" {
				text = `{"suggestions": []}`
			}
			err = json.Unmarshal([]byte(text), &reply)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "suggest replies")
		}
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrBusy) {
			a.logger.Error("Suggestion request failed", "error", err)
			err = fmt.Errorf("suggest replies: %w", err)
		}
		return []string{}, err
	}

	out := make([]string, 0, maxSuggestions)
	for _, s := range reply.Suggestions {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == maxSuggestions {
			break
		}
	}
	return out, nil
}

// line renders one transcript entry the way the prompts expect.
func line(m session.ChatMessage) string {
	who := "me"
	switch m.Sender {
	case session.SenderPeer:
		who = "peer"
	case session.SenderAssistant:
		who = "ai"
	}
	return who + ": " + m.Text
}
