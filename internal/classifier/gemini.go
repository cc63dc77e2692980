package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"budget/internal/core"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// generateFunc sends a prompt and returns the raw model text.
type generateFunc func(ctx context.Context, prompt string) (string, error)

// Gemini classifies batches with a Gemini model through the genai SDK.
type Gemini struct {
	model    string
	generate generateFunc
}

// NewGemini creates a Gemini API client. An empty model uses DefaultGeminiModel.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		ResponseMIMEType: "application/json",
	}
	return &Gemini{
		model: model,
		generate: func(ctx context.Context, prompt string) (string, error) {
			resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), cfg)
			if err != nil {
				return "", err
			}
			return resp.Text(), nil
		},
	}, nil
}

// Model returns the model name requests are sent to.
func (g *Gemini) Model() string {
	return g.model
}

// Classify sends one batch in a single request.
func (g *Gemini) Classify(ctx context.Context, batch []Item, taxonomy core.Taxonomy) ([]Answer, error) {
	if len(batch) == 0 {
		return nil, nil
	}
	prompt, err := buildPrompt(batch, taxonomy)
	if err != nil {
		return nil, &Error{Code: CodeMalformedResponse, Message: "build prompt", Cause: err}
	}

	raw, err := g.generate(ctx, prompt)
	if err != nil {
		return nil, mapGenaiError(err)
	}
	if strings.TrimSpace(raw) == "" {
		return nil, Malformed("empty response from model", nil)
	}
	return parseAnswers(raw)
}

// mapGenaiError turns SDK failures into classification errors.
func mapGenaiError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Message: "gemini request timed out", Retryable: true, Cause: err}
	}

	code := 0
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code = apiErr.Code
	case errors.As(err, &apiErrPtr):
		code = apiErrPtr.Code
	}

	switch {
	case code == http.StatusTooManyRequests:
		return RateLimited(err)
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return &Error{Code: CodeTimeout, Message: "gemini request timed out", Retryable: true, Cause: err}
	case code == http.StatusBadRequest || code == http.StatusUnauthorized || code == http.StatusForbidden || code == http.StatusNotFound:
		return &Error{Code: CodeUnavailable, Message: "gemini rejected the request", Retryable: false, Cause: err}
	}
	return Unavailable(err)
}

type promptItem struct {
	Index             int    `json:"index"`
	Date              string `json:"date"`
	Description       string `json:"description"`
	Amount            string `json:"amount"`
	SourceCategory    string `json:"source_category,omitempty"`
	SourceSubcategory string `json:"source_subcategory,omitempty"`
}

func buildPrompt(batch []Item, taxonomy core.Taxonomy) (string, error) {
	items := make([]promptItem, len(batch))
	for i, it := range batch {
		items[i] = promptItem{
			Index:             it.Index,
			Date:              it.Date.Format("2006-01-02"),
			Description:       it.Description,
			Amount:            it.Amount.String(),
			SourceCategory:    it.SourceCategory,
			SourceSubcategory: it.SourceSubcategory,
		}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal items: %w", err)
	}

	var cats strings.Builder
	for _, c := range core.Categories {
		subs := taxonomy.Subcategories(c)
		if len(subs) == 0 {
			fmt.Fprintf(&cats, "- %s: (no subcategory, use \"\")\n", c)
			continue
		}
		fmt.Fprintf(&cats, "- %s: %s\n", c, strings.Join(subs, ", "))
	}

	return "You classify personal bank transactions into a budget following the 50/30/20 rule.\n\n" +
		"Categories and their allowed subcategories:\n" + cats.String() + "\n" +
		"Meaning:\n" +
		"- INCOME: money received (salary, refunds, benefits).\n" +
		"- CORE: essential spending needed to live.\n" +
		"- CHOICE: discretionary spending.\n" +
		"- COMPOUND: money set aside to grow (savings, investments, debt repayment).\n" +
		"- EXCLUDED: movements that are neither income nor spending, such as transfers between own accounts.\n\n" +
		"Rules:\n" +
		"- Pick exactly one category and one subcategory from the lists above for every transaction.\n" +
		"- source_category and source_subcategory come from the bank export. Treat them as hints only.\n" +
		"- A positive amount is money in, a negative amount is money out.\n" +
		"- confidence is a number between 0 and 1.\n" +
		"- Return one result per input index.\n\n" +
		"Return ONLY valid raw JSON, without code fences, in this shape:\n" +
		`{"results": [{"index": 0, "category": "CORE", "subcategory": "Groceries", "confidence": 0.9}]}` + "\n\n" +
		"Transactions:\n" + string(itemsJSON), nil
}

type answerJSON struct {
	Index       *int     `json:"index"`
	Category    string   `json:"category"`
	Subcategory string   `json:"subcategory"`
	Confidence  *float64 `json:"confidence"`
}

// parseAnswers accepts {"results": [...]} or a bare array. Results without an index are dropped.
func parseAnswers(raw string) ([]Answer, error) {
	clean := cleanModelJSON(raw)

	var list []answerJSON
	if strings.HasPrefix(clean, "[") {
		if err := json.Unmarshal([]byte(clean), &list); err != nil {
			return nil, Malformed("decode results array", err)
		}
	} else {
		var wrapped struct {
			Results *[]answerJSON `json:"results"`
		}
		if err := json.Unmarshal([]byte(clean), &wrapped); err != nil {
			return nil, Malformed("decode results object", err)
		}
		if wrapped.Results == nil {
			return nil, Malformed("response has no results field", nil)
		}
		list = *wrapped.Results
	}

	answers := make([]Answer, 0, len(list))
	for _, a := range list {
		if a.Index == nil {
			continue
		}
		answers = append(answers, Answer{
			Index:       *a.Index,
			Category:    a.Category,
			Subcategory: a.Subcategory,
			Confidence:  a.Confidence,
		})
	}
	return answers, nil
}

// cleanModelJSON strips Markdown fences and surrounding prose the model may add.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)

	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		} else {
			return s
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	s = strings.TrimSpace(s)

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return s
	}
	closer := "}"
	if s[start] == '[' {
		closer = "]"
	}
	if end := strings.LastIndex(s, closer); end > start {
		s = s[start : end+1]
	}
	return strings.TrimSpace(s)
}
