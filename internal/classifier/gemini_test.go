package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"budget/internal/core"
)

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain object", `{"results": []}`, `{"results": []}`},
		{"fenced json", "```json\n{\"results\": []}\n```", `{"results": []}`},
		{"fenced bare", "```\n[1, 2]\n```", `[1, 2]`},
		{"prose around", "Here you go:\n{\"results\": []}\nHope it helps", `{"results": []}`},
		{"no json", "sorry", "sorry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanModelJSON(tt.in))
		})
	}
}

func TestParseAnswers(t *testing.T) {
	answers, err := parseAnswers("```json\n" + `{"results": [
		{"index": 0, "category": "CORE", "subcategory": "Groceries", "confidence": 0.8},
		{"index": 1, "category": "INCOME", "subcategory": "Salary"},
		{"category": "CHOICE", "subcategory": "Travel"}
	]}` + "\n```")
	require.NoError(t, err)
	require.Len(t, answers, 2)

	assert.Equal(t, 0, answers[0].Index)
	require.NotNil(t, answers[0].Confidence)
	assert.Equal(t, 0.8, *answers[0].Confidence)
	assert.Nil(t, answers[1].Confidence)

	bare, err := parseAnswers(`[{"index": 3, "category": "EXCLUDED", "subcategory": ""}]`)
	require.NoError(t, err)
	require.Len(t, bare, 1)
	assert.Equal(t, 3, bare[0].Index)
}

func TestParseAnswers_Malformed(t *testing.T) {
	for _, raw := range []string{`{"results": [`, `{"items": []}`, `not json`} {
		_, err := parseAnswers(raw)
		assert.Equal(t, CodeMalformedResponse, CodeOf(err), raw)
	}
}

func TestGemini_Classify(t *testing.T) {
	var prompt string
	g := &Gemini{model: "test", generate: func(_ context.Context, p string) (string, error) {
		prompt = p
		return `{"results": [{"index": 0, "category": "CHOICE", "subcategory": "Restaurants", "confidence": 0.7}]}`, nil
	}}

	batch := []Item{{
		Index:          0,
		Date:           time.Date(2025, 10, 29, 0, 0, 0, 0, time.UTC),
		Description:    "Bistro",
		Amount:         decimal.RequireFromString("-23.50"),
		SourceCategory: "Food",
	}}
	answers, err := g.Classify(context.Background(), batch, core.DefaultTaxonomy())
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "CHOICE", answers[0].Category)

	assert.Contains(t, prompt, "Restaurants")
	assert.Contains(t, prompt, `"amount":"-23.5"`)
	assert.Contains(t, prompt, `"date":"2025-10-29"`)
	assert.Contains(t, prompt, "EXCLUDED: (no subcategory")

	jsonPart := prompt[strings.LastIndex(prompt, "Transactions:\n")+len("Transactions:\n"):]
	var items []promptItem
	require.NoError(t, json.Unmarshal([]byte(jsonPart), &items))
	assert.Equal(t, "Food", items[0].SourceCategory)
}

func TestGemini_EmptyResponseIsMalformed(t *testing.T) {
	g := &Gemini{generate: func(context.Context, string) (string, error) { return "  ", nil }}
	_, err := g.Classify(context.Background(), []Item{{}}, core.DefaultTaxonomy())
	assert.Equal(t, CodeMalformedResponse, CodeOf(err))
}

func TestMapGenaiError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      Code
		retryable bool
	}{
		{"quota", genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}, CodeRateLimited, true},
		{"quota pointer", fmt.Errorf("call: %w", &genai.APIError{Code: 429}), CodeRateLimited, true},
		{"server", genai.APIError{Code: 503}, CodeUnavailable, true},
		{"bad key", genai.APIError{Code: 403}, CodeUnavailable, false},
		{"deadline", context.DeadlineExceeded, CodeTimeout, true},
		{"network", errors.New("dial tcp: connection refused"), CodeUnavailable, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapGenaiError(tt.err)
			var ce *Error
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.code, ce.Code)
			assert.Equal(t, tt.retryable, ce.Retryable)
		})
	}
}

func TestNewGemini_RequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), "", "")
	assert.Error(t, err)
}
