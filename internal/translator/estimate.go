package translator

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language/display"

	"github.com/MimeLyc/subtitle-batch-translator/internal/llm"
)

// PricingSource tells where the price of an Estimate came from.
type PricingSource string

const (
	PricingLive     PricingSource = "live"
	PricingFallback PricingSource = "fallback"
	PricingNone     PricingSource = "none"
)

// Pricing is in US dollars per million tokens.
type Pricing struct {
	InputPerMillion  float64 `json:"input_per_million"`
	OutputPerMillion float64 `json:"output_per_million"`
}

// fallbackPricing is used when the provider does not report prices.
var fallbackPricing = map[string]Pricing{
	"gemini-1.5-pro":                    {1.25, 5.0},
	"gemini-1.5-pro-latest":             {1.25, 5.0},
	"gemini-1.5-flash":                  {0.075, 0.3},
	"gemini-1.5-flash-latest":           {0.075, 0.3},
	"gemini-2.0-flash-exp":              {0.075, 0.3},
	"gemini-exp-1121":                   {1.25, 5.0},
	"gemini-exp-1206":                   {1.25, 5.0},
	"openai/gpt-4o":                     {2.5, 10.0},
	"openai/gpt-4o-mini":                {0.15, 0.6},
	"openai/gpt-4-turbo":                {10.0, 30.0},
	"anthropic/claude-3.5-sonnet":       {3.0, 15.0},
	"anthropic/claude-3-haiku":          {0.25, 1.25},
	"anthropic/claude-3-opus":           {15.0, 75.0},
	"meta-llama/llama-3.1-8b-instruct":  {0.055, 0.055},
	"meta-llama/llama-3.1-70b-instruct": {0.59, 0.79},
	"microsoft/wizardlm-2-8x22b":        {0.63, 0.63},
	"google/gemini-pro-1.5":             {1.25, 5.0},
	"google/gemini-flash-1.5":           {0.075, 0.3},
}

// charsPerToken by English language name; unknown languages count like English.
var charsPerToken = map[string]float64{
	"English":    4,
	"Vietnamese": 3.5,
	"Chinese":    2,
	"Japanese":   2.5,
	"Korean":     3,
	"Spanish":    4.2,
	"French":     4.5,
	"German":     5,
	"Russian":    3.8,
	"Arabic":     3.5,
	"Thai":       3,
}

// outputMultiplier is the expected length of a translation relative to its source.
var outputMultiplier = map[string]float64{
	"Vietnamese": 1.2,
	"Chinese":    0.8,
	"Japanese":   1.1,
	"Korean":     1.1,
	"Spanish":    1.3,
	"French":     1.4,
	"German":     1.5,
	"Russian":    1.2,
	"Arabic":     1.1,
	"Thai":       1.0,
	"English":    1.0,
}

const defaultOutputMultiplier = 1.2

// EstimateInput describes the texts a translation run would send.
type EstimateInput struct {
	Texts          []string
	SourceLanguage string
	TargetLanguage string
	Prompt         string
	ContextWindow  int
	BatchSize      int
}

// Estimate is a rough token and cost forecast for one run.
type Estimate struct {
	Items         int           `json:"items"`
	InputTokens   int           `json:"input_tokens"`
	OutputTokens  int           `json:"output_tokens"`
	TotalTokens   int           `json:"total_tokens"`
	Model         string        `json:"model,omitempty"`
	Cost          float64       `json:"estimated_cost"`
	PricingSource PricingSource `json:"pricing_source"`
	Pricing       *Pricing      `json:"pricing,omitempty"`
}

// languageName maps a tag or display name to the English language name used
// by the ratio tables. Regions and scripts are dropped.
func languageName(s string) string {
	tag, err := ResolveLanguage(s)
	if err != nil {
		return strings.TrimSpace(s)
	}
	base, _ := tag.Base()
	if name := display.English.Languages().Name(base); name != "" {
		return name
	}
	return strings.TrimSpace(s)
}

// EstimateTokenCount approximates the tokens of text written in lang.
func EstimateTokenCount(text, lang string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	ratio, ok := charsPerToken[languageName(lang)]
	if !ok {
		ratio = charsPerToken["English"]
	}
	return int(math.Ceil(float64(len([]rune(text))) / ratio))
}

// EstimateTokens forecasts the tokens of translating in.Texts. The context
// block is counted as ContextWindow source and translation pairs per batch.
func EstimateTokens(in EstimateInput) Estimate {
	if len(in.Texts) == 0 {
		return Estimate{PricingSource: PricingNone}
	}
	source := in.SourceLanguage
	if source == "" {
		source = "English"
	}

	sourceTokens := 0
	for _, text := range in.Texts {
		sourceTokens += EstimateTokenCount(text, source)
	}

	contextTokens := 0
	if in.ContextWindow > 0 && in.BatchSize > 0 {
		avg := float64(sourceTokens) / float64(len(in.Texts))
		batches := len(in.Texts) / in.BatchSize
		contextTokens = int(math.Ceil(float64(batches*in.ContextWindow) * avg * 2))
	}

	instruction := fmt.Sprintf("Translate to %s. Maintain formatting.", in.TargetLanguage)
	input := EstimateTokenCount(in.Prompt, "English") + sourceTokens + contextTokens +
		EstimateTokenCount(instruction, "English")

	multiplier, ok := outputMultiplier[languageName(in.TargetLanguage)]
	if !ok {
		multiplier = defaultOutputMultiplier
	}
	output := int(math.Ceil(float64(sourceTokens) * multiplier))

	return Estimate{
		Items:         len(in.Texts),
		InputTokens:   input,
		OutputTokens:  output,
		TotalTokens:   input + output,
		PricingSource: PricingNone,
	}
}

// WithCost prices e for model. Live pricing wins over the built-in table.
func (e Estimate) WithCost(model string, live *Pricing) Estimate {
	e.Model = model
	pricing := live
	e.PricingSource = PricingLive
	if pricing == nil {
		p, ok := fallbackPricing[model]
		if !ok {
			e.PricingSource = PricingNone
			e.Cost = 0
			e.Pricing = nil
			return e
		}
		pricing = &p
		e.PricingSource = PricingFallback
	}
	e.Pricing = pricing
	e.Cost = float64(e.InputTokens)/1e6*pricing.InputPerMillion +
		float64(e.OutputTokens)/1e6*pricing.OutputPerMillion
	return e
}

// ParsePricing converts per-token model prices to per-million prices.
func ParsePricing(p llm.ModelPricing) (Pricing, bool) {
	if strings.EqualFold(p.Prompt, "free") || strings.EqualFold(p.Completion, "free") {
		return Pricing{}, true
	}
	in, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(p.Prompt), "$"), 64)
	if err != nil {
		return Pricing{}, false
	}
	out, err := strconv.ParseFloat(strings.TrimPrefix(strings.TrimSpace(p.Completion), "$"), 64)
	if err != nil {
		return Pricing{}, false
	}
	return Pricing{InputPerMillion: in * 1e6, OutputPerMillion: out * 1e6}, true
}

// LivePricing finds model in models and returns its parsed price.
func LivePricing(models []llm.ModelInfo, model string) (*Pricing, bool) {
	for _, m := range models {
		if m.ID != model {
			continue
		}
		p, ok := ParsePricing(m.Pricing)
		if !ok {
			return nil, false
		}
		return &p, true
	}
	return nil, false
}

// FormatTokenCount renders 950, 12.3K or 1.25M.
func FormatTokenCount(n int) string {
	switch {
	case n < 1000:
		return strconv.Itoa(n)
	case n < 1_000_000:
		return humanize.FormatFloat("#,###.#", float64(n)/1000) + "K"
	default:
		return humanize.FormatFloat("#,###.##", float64(n)/1_000_000) + "M"
	}
}

// FormatCost renders a dollar amount with more digits for smaller sums.
func FormatCost(cost float64) string {
	switch {
	case cost == 0:
		return "$0.00"
	case cost < 0.000001:
		return "$" + strconv.FormatFloat(cost, 'e', 2, 64)
	case cost < 0.001:
		return fmt.Sprintf("$%.6f", cost)
	case cost < 0.01:
		return fmt.Sprintf("$%.4f", cost)
	case cost < 1:
		return fmt.Sprintf("$%.3f", cost)
	default:
		return "$" + humanize.FormatFloat("#,###.##", cost)
	}
}
