package translator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/MimeLyc/subtitle-batch-translator/internal/llm"
	"github.com/MimeLyc/subtitle-batch-translator/pkg/log"
)

// inlineBreakerPlaceholder stands in for line breaks inside one subtitle so
// that the model never confuses them with line boundaries.
const inlineBreakerPlaceholder = "%%inline_breaker%%"

const defaultInstruction = "Translate naturally and concisely so the text reads well on screen. Keep names, numbers and formatting tags unchanged."

var numberedLine = regexp.MustCompile(`^\s*(\d+)\s*[\.\):]\s*(.*)$`)

type completer interface {
	Complete(ctx context.Context, prompt string, opts *llm.ChatCompletionOptions) (string, error)
}

// llmTranslator translates through an OpenAI-compatible chat completion API.
type llmTranslator struct {
	client completer
}

func NewLLMTranslator(client *llm.Client) Translator {
	return &llmTranslator{client: client}
}

func (t *llmTranslator) TranslateBatch(ctx context.Context, texts []string, targetLanguage, prompt, batchContext string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	userMessage, err := buildTranslationUserMessage(texts)
	if err != nil {
		return nil, err
	}

	opts := llm.NewChatCompletionOptions().
		WithSystemPrompt(buildBatchPrompt(targetLanguage, prompt, batchContext)).
		WithJSONResponse()

	content, err := t.client.Complete(ctx, userMessage, opts)
	if err != nil {
		return nil, fmt.Errorf("translate batch of %d: %w", len(texts), err)
	}

	results, err := parseTranslationOutput(content, texts)
	if err != nil {
		log.Warn("Unusable translation response for batch of %d: %v", len(texts), err)
		return nil, err
	}
	return results, nil
}

func buildBatchPrompt(targetLanguage, instruction, batchContext string) string {
	var prompt strings.Builder

	prompt.WriteString("You are a professional subtitle translator. Translate every subtitle line into " +
		LanguageName(targetLanguage) + ".\n\n")

	prompt.WriteString("=== INSTRUCTIONS ===\n")
	if strings.TrimSpace(instruction) == "" {
		instruction = defaultInstruction
	}
	prompt.WriteString(strings.TrimSpace(instruction) + "\n")

	if strings.TrimSpace(batchContext) != "" {
		prompt.WriteString("\n=== CONTEXT FROM PREVIOUS TRANSLATIONS ===\n")
		prompt.WriteString(strings.TrimSpace(batchContext) + "\n")
		prompt.WriteString("Use it for consistent names, terms and tone. Do NOT translate it again.\n")
	}

	prompt.WriteString("\n=== RULES ===\n")
	prompt.WriteString("1. The input is a JSON object {\"lines\": [{\"index\": n, \"text\": \"...\"}]}\n")
	prompt.WriteString("2. Do NOT merge, split, reorder, or drop lines\n")
	prompt.WriteString("3. Preserve every " + inlineBreakerPlaceholder + " marker; do NOT output literal newline characters in JSON text\n")
	prompt.WriteString("4. If an input line is empty, output text for that index MUST be an empty string\n")

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString("Respond with ONLY this JSON object and nothing else:\n")
	prompt.WriteString(`{"translations": [{"index": 1, "text": "..."}]}` + "\n")

	return prompt.String()
}

type indexedLine struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

func buildTranslationUserMessage(texts []string) (string, error) {
	payload := struct {
		Lines []indexedLine `json:"lines"`
	}{Lines: make([]indexedLine, len(texts))}
	for i, text := range texts {
		payload.Lines[i] = indexedLine{
			Index: i + 1,
			Text:  strings.ReplaceAll(text, "\n", inlineBreakerPlaceholder),
		}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode lines: %w", err)
	}
	return string(data), nil
}

// parseTranslationOutput aligns the model reply with texts. It understands
// {"translations": [...]} with strings or indexed objects, a bare JSON array,
// and as a last resort "1. text" numbered lines.
func parseTranslationOutput(content string, texts []string) ([]Result, error) {
	content = stripCodeFence(strings.TrimSpace(content))
	if content == "" {
		return nil, fmt.Errorf("empty response from provider")
	}

	translated, ok := decodeJSONTranslations(content, len(texts))
	if !ok {
		translated, ok = decodeNumberedLines(content, len(texts))
	}
	if !ok {
		return nil, fmt.Errorf("response is neither json nor numbered lines: %.80q", content)
	}

	results := make([]Result, len(texts))
	for i := range texts {
		text, found := translated[i]
		switch {
		case found && strings.TrimSpace(text) != "":
			results[i] = Result{Text: restoreBreaks(text)}
		case found && strings.TrimSpace(texts[i]) == "":
			results[i] = Result{Text: ""}
		default:
			results[i] = Result{Error: MissingTranslation(i, len(texts))}
		}
	}
	return results, nil
}

func restoreBreaks(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, inlineBreakerPlaceholder, "\n"))
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// decodeJSONTranslations returns translations keyed by zero-based position.
func decodeJSONTranslations(content string, n int) (map[int]string, bool) {
	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return nil, false
	}
	content = content[start:]

	var raw json.RawMessage
	if content[0] == '{' {
		var envelope struct {
			Translations json.RawMessage `json:"translations"`
		}
		if err := json.NewDecoder(strings.NewReader(content)).Decode(&envelope); err != nil || len(envelope.Translations) == 0 {
			return nil, false
		}
		raw = envelope.Translations
	} else {
		if err := json.NewDecoder(strings.NewReader(content)).Decode(&raw); err != nil {
			return nil, false
		}
	}

	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		out := make(map[int]string, len(plain))
		for i, text := range plain {
			if i < n {
				out[i] = text
			}
		}
		return out, true
	}

	var indexed []indexedLine
	if err := json.Unmarshal(raw, &indexed); err == nil {
		out := make(map[int]string, len(indexed))
		for _, line := range indexed {
			if line.Index >= 1 && line.Index <= n {
				out[line.Index-1] = line.Text
			}
		}
		return out, true
	}
	return nil, false
}

func decodeNumberedLines(content string, n int) (map[int]string, bool) {
	out := make(map[int]string)
	for _, line := range strings.Split(content, "\n") {
		m := numberedLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil || idx < 1 || idx > n {
			continue
		}
		out[idx-1] = strings.Trim(strings.TrimSpace(m[2]), `"`)
	}
	return out, len(out) > 0
}
