package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"opsdiag/internal/domain"
)

const (
	maxPromptBodyRunes   = 4000
	maxLLMReasons        = 3
	defaultLLMConfidence = 0.7
)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// LLMUsage accumulates token counts across calls.
type LLMUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

func (u LLMUsage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

func (u *LLMUsage) Add(other LLMUsage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}

// Completer sends one prompt pair to a text-generation service.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, LLMUsage, error)
}

type LLMOptions struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
	Fallback   Classifier
	Logger     *zap.Logger
}

// LLM classifies through a text-generation service and hands malformed answers
// to its fallback classifier.
type LLM struct {
	completer Completer
	fallback  Classifier
	log       *zap.Logger
	name      string

	mu        sync.Mutex
	usage     LLMUsage
	fallbacks atomic.Int64
}

func NewLLM(opts LLMOptions) (*LLM, error) {
	provider := normalizeTextToken(opts.Provider)
	if provider == "" {
		provider = ProviderAnthropic
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, &ConfigurationError{Setting: provider + "_api_key", Reason: "required when classifier=llm and llm_provider=" + provider}
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var completer Completer
	model := strings.TrimSpace(opts.Model)
	switch provider {
	case ProviderAnthropic:
		if model == "" {
			model = defaultAnthropicModel
		}
		completer = newAnthropicCompleter(opts.APIKey, model, opts.BaseURL, httpClient)
	case ProviderOpenAI:
		if model == "" {
			model = defaultOpenAIModel
		}
		completer = newOpenAICompleter(opts.APIKey, model, opts.BaseURL, httpClient)
	default:
		return nil, &ConfigurationError{Setting: "llm_provider", Reason: fmt.Sprintf("must be %q or %q, got %q", ProviderAnthropic, ProviderOpenAI, opts.Provider)}
	}

	l := newLLM(completer, opts.Fallback, opts.Logger)
	l.name = provider + ":" + model
	return l, nil
}

func newLLM(completer Completer, fallback Classifier, log *zap.Logger) *LLM {
	if fallback == nil {
		fallback = NewHeuristic(DefaultRuleSet())
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LLM{completer: completer, fallback: fallback, log: log, name: "llm"}
}

// Name identifies provider and model, e.g. "anthropic:claude-sonnet-4-5".
func (l *LLM) Name() string {
	return l.name
}

func (l *LLM) Usage() LLMUsage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.usage
}

// Fallbacks counts responses that could not be used and went to the fallback classifier.
func (l *LLM) Fallbacks() int64 {
	return l.fallbacks.Load()
}

func (l *LLM) Classify(ctx context.Context, item domain.InboundItem) (domain.Classification, error) {
	systemPrompt, userPrompt, err := buildClassificationPrompts(item)
	if err != nil {
		return domain.Classification{}, err
	}

	text, usage, err := l.completer.Complete(ctx, systemPrompt, userPrompt)
	l.mu.Lock()
	l.usage.Add(usage)
	l.mu.Unlock()
	if err != nil {
		return domain.Classification{}, err
	}

	c, parseErr := parseClassificationResponse(text)
	if parseErr != nil {
		l.fallbacks.Add(1)
		l.log.Warn("llm classification unusable, using fallback",
			zap.String("item_id", item.ID),
			zap.Error(parseErr),
		)
		return l.fallback.Classify(ctx, item)
	}
	return c, nil
}

type classificationPrompt struct {
	Task         string            `json:"task"`
	Labels       promptLabels      `json:"labels"`
	Input        promptInput       `json:"input"`
	Requirements []string          `json:"requirements"`
	Schema       map[string]string `json:"schema"`
}

type promptLabels struct {
	Category []string `json:"category"`
	Nature   []string `json:"nature"`
	Risk     []string `json:"risk"`
}

type promptInput struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func buildClassificationPrompts(item domain.InboundItem) (string, string, error) {
	var labels promptLabels
	for _, c := range domain.Categories() {
		labels.Category = append(labels.Category, c.String())
	}
	for _, n := range domain.Natures() {
		labels.Nature = append(labels.Nature, n.String())
	}
	for _, r := range domain.RiskFlags() {
		labels.Risk = append(labels.Risk, r.String())
	}

	prompt := classificationPrompt{
		Task:   "Classify one inbound logistics operations message.",
		Labels: labels,
		Input: promptInput{
			Subject: item.Subject,
			Body:    truncateRunes(item.Body, maxPromptBodyRunes),
		},
		Requirements: []string{
			"Return strict JSON only.",
			"Use conservative judgments.",
			"Keep reasons concise.",
		},
		Schema: map[string]string{
			"category":   "string",
			"nature":     "string",
			"risk":       "string",
			"confidence": "number between 0 and 1",
			"reasons":    "array of short strings",
		},
	}
	data, err := json.Marshal(prompt)
	if err != nil {
		return "", "", fmt.Errorf("marshal classification prompt: %w", err)
	}

	systemPrompt := `You classify inbound operations messages for a workload diagnostic.
Pick labels only from the provided vocabulary.
Respond with a single JSON object only (no markdown):
{"category": "...", "nature": "...", "risk": "...", "confidence": 0.8, "reasons": ["..."]}`
	return systemPrompt, string(data), nil
}

type llmClassification struct {
	Category   *string         `json:"category"`
	Nature     *string         `json:"nature"`
	Risk       *string         `json:"risk"`
	Confidence json.RawMessage `json:"confidence"`
	Reasons    []any           `json:"reasons"`
}

func parseClassificationResponse(responseText string) (domain.Classification, error) {
	responseText = stripCodeFence(responseText)

	var raw llmClassification
	if err := json.Unmarshal([]byte(responseText), &raw); err != nil {
		return domain.Classification{}, fmt.Errorf("parsing LLM classification: %w (response: %s)", err, truncateRunes(responseText, 512))
	}
	if raw.Category == nil || raw.Nature == nil || raw.Risk == nil {
		return domain.Classification{}, fmt.Errorf("LLM classification missing category, nature or risk")
	}

	category, err := domain.ParseWorkCategory(*raw.Category)
	if err != nil {
		return domain.Classification{}, err
	}
	nature, err := domain.ParseWorkNature(*raw.Nature)
	if err != nil {
		return domain.Classification{}, err
	}
	risk, err := domain.ParseRiskFlag(*raw.Risk)
	if err != nil {
		return domain.Classification{}, err
	}
	confidence, err := parseConfidence(raw.Confidence)
	if err != nil {
		return domain.Classification{}, err
	}

	reasons := make([]string, 0, maxLLMReasons)
	for _, r := range raw.Reasons {
		if len(reasons) == maxLLMReasons {
			break
		}
		switch v := r.(type) {
		case string:
			reasons = append(reasons, v)
		default:
			reasons = append(reasons, fmt.Sprint(v))
		}
	}

	return domain.Classification{
		Category:   category,
		Nature:     nature,
		Risk:       risk,
		Confidence: clamp01(confidence),
		Reasons:    reasons,
	}, nil
}

func parseConfidence(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return defaultLLMConfidence, nil
	}
	var asFloat float64
	if err := json.Unmarshal(raw, &asFloat); err == nil {
		return asFloat, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		v, err := strconv.ParseFloat(strings.TrimSpace(asString), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid confidence %q: %w", asString, err)
		}
		return v, nil
	}
	return 0, fmt.Errorf("invalid confidence %s", string(raw))
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
