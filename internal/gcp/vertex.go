package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/marketbrief/marketbrief/internal/marketdata"
	"github.com/marketbrief/marketbrief/internal/models"
)

const reportSystemPrompt = "You are a sell-side market analyst. Given recent daily OHLCV bars for a single equity, write a concise daily brief for a retail audience. You must output your response as a single valid JSON object."

const reportUserPrompt = `Analyze the provided daily bars and write today's brief for the instrument.

Follow these rules precisely:
1. Base every statement on the supplied bars. Do not invent prices, news, or events.
2. Output a single JSON object with exactly these keys:
   - "body": the brief as plain text, three to five short paragraphs covering the latest session, the recent trend, and notable volume behavior.
   - "sentiment": one of "bullish", "bearish", or "neutral".
   - "highlights": an array of at most four short bullet strings.
3. Do not include any text before or after the JSON object.`

// VertexWriter generates report text with a Gemini model. It is the
// pipeline's opaque synthesis function.
type VertexWriter struct {
	model      *genai.GenerativeModel
	baseClient *genai.Client
}

// NewVertexWriter creates a client with the report model configured for
// deterministic JSON output.
func NewVertexWriter(ctx context.Context, projectID, region, modelName string) (*VertexWriter, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexWriter: projectID and region cannot be empty")
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(modelName)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(reportSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.2),
	}

	return &VertexWriter{model: model, baseClient: baseClient}, nil
}

func (w *VertexWriter) Close() error {
	if w.baseClient != nil {
		return w.baseClient.Close()
	}
	return nil
}

// Generate writes the daily brief for one instrument from its recent
// bars. Returns the body text plus the structured metadata blob.
func (w *VertexWriter) Generate(ctx context.Context, inst models.Instrument, bars []marketdata.Bar) (string, []byte, error) {
	barsJSON, err := json.Marshal(bars)
	if err != nil {
		return "", nil, fmt.Errorf("marshal bars: %w", err)
	}

	prompt := fmt.Sprintf("%s\n\nInstrument: %s (%s)\nBars (oldest first):\n%s",
		reportUserPrompt, inst.Name, inst.Symbol, barsJSON)

	resp, err := w.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", nil, fmt.Errorf("generate content: %w", err)
	}

	raw := extractText(resp)
	if raw == "" {
		return "", nil, fmt.Errorf("empty model response for %s", inst.Symbol)
	}
	if refused(raw) {
		return "", nil, fmt.Errorf("model response indicates refusal for %s", inst.Symbol)
	}

	var parsed struct {
		Body       string   `json:"body"`
		Sentiment  string   `json:"sentiment"`
		Highlights []string `json:"highlights"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return "", nil, fmt.Errorf("parse model JSON for %s: %w", inst.Symbol, err)
	}
	if parsed.Body == "" {
		return "", nil, fmt.Errorf("model returned no body for %s", inst.Symbol)
	}

	metadata, err := json.Marshal(map[string]interface{}{
		"sentiment":  parsed.Sentiment,
		"highlights": parsed.Highlights,
		"barCount":   len(bars),
	})
	if err != nil {
		return "", nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return parsed.Body, metadata, nil
}

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	out := strings.TrimSpace(sb.String())
	out = strings.TrimPrefix(out, "```json")
	out = strings.TrimPrefix(out, "```")
	out = strings.TrimSuffix(out, "```")
	return strings.TrimSpace(out)
}

// refused detects the common refusal phrasings so a useless response
// fails the unit instead of being persisted as a report.
func refused(content string) bool {
	lower := strings.ToLower(content)
	for _, phrase := range []string{
		"i am unable to",
		"i cannot fulfill",
		"i cannot answer",
		"i cannot provide",
		"as a large language model",
	} {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
