// Package modelassist is the model-assisted parser (§4.3): it extracts
// the same Recipe shape as internal/parse/local, but via an external
// text-completion model, for input the caller judges too irregular for
// the pattern-based parser alone.
package modelassist

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/shopspring/decimal"
	"google.golang.org/api/option"

	"github.com/reciperun/pipeline/internal/cache"
	"github.com/reciperun/pipeline/internal/model"
	"github.com/reciperun/pipeline/internal/parse/local"
	"github.com/reciperun/pipeline/internal/parse/repair"
)

// Extractor is the smallest interface an activity needs from a model
// provider: hand it raw recipe text, get back a lenient extraction.
// Binding to this instead of *genai.Client lets tests and mock mode
// substitute a canned implementation.
type Extractor interface {
	Extract(ctx context.Context, rawText string) (*Extraction, error)
}

// Extraction is the lenient schema the model is asked to fill in:
// numeric fields accept a number or a string, unknown enum values are
// permitted and normalized downstream by the repair pass, and missing
// fields default to empty/absent.
type Extraction struct {
	Title        string               `json:"title"`
	Description  string               `json:"description"`
	Ingredients  []ExtractedIngredient `json:"ingredients"`
	Instructions []string             `json:"instructions"`
	PrepMinutes  *int                 `json:"prep_minutes"`
	CookMinutes  *int                 `json:"cook_minutes"`
	TotalMinutes *int                 `json:"total_minutes"`
	Servings     *string              `json:"servings"`
	Difficulty   string               `json:"difficulty"`
	MealType     string               `json:"meal_type"`
	CuisineType  string               `json:"cuisine_type"`
}

// ExtractedIngredient mirrors model.RecipeIngredient but keeps quantity
// as a string so "1/2", "1-2", or a bare word all unmarshal cleanly.
type ExtractedIngredient struct {
	Item     string `json:"item"`
	Amount   string `json:"amount"`
	Unit     string `json:"unit"`
	Notes    string `json:"notes"`
}

// UnmarshalJSON accepts prep_minutes/cook_minutes/total_minutes and
// servings as either a JSON number or a string, the same flexible-field
// pattern the teacher's ExtractionResult uses for servings/prepTime/cookTime.
func (e *Extraction) UnmarshalJSON(data []byte) error {
	type Alias Extraction
	aux := &struct {
		PrepMinutesRaw  interface{} `json:"prep_minutes"`
		CookMinutesRaw  interface{} `json:"cook_minutes"`
		TotalMinutesRaw interface{} `json:"total_minutes"`
		ServingsRaw     interface{} `json:"servings"`
		*Alias
	}{Alias: (*Alias)(e)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	e.PrepMinutes = coerceIntPtr(aux.PrepMinutesRaw)
	e.CookMinutes = coerceIntPtr(aux.CookMinutesRaw)
	e.TotalMinutes = coerceIntPtr(aux.TotalMinutesRaw)
	switch v := aux.ServingsRaw.(type) {
	case float64:
		s := fmt.Sprint(v)
		e.Servings = &s
	case string:
		e.Servings = &v
	}
	return nil
}

func coerceIntPtr(raw interface{}) *int {
	switch v := raw.(type) {
	case float64:
		n := int(v)
		return &n
	case string:
		if n, ok := repair.CoerceInt(v); ok {
			return &n
		}
	}
	return nil
}

// ToRecipe converts the lenient extraction into a model.Recipe, leaving
// normalization (difficulty/meal-type substring matching, markdown
// stripping, ingredient field-swap) to the repair pass — the same
// contract the local parser's output goes through.
func (e *Extraction) ToRecipe() *model.Recipe {
	ingredients := make([]model.RecipeIngredient, 0, len(e.Ingredients))
	for _, ing := range e.Ingredients {
		ingredients = append(ingredients, model.RecipeIngredient{
			Item:   ing.Item,
			Amount: ing.Amount,
			Unit:   ing.Unit,
			Notes:  ing.Notes,
		})
	}

	r := &model.Recipe{
		Title:        e.Title,
		Description:  e.Description,
		Ingredients:  ingredients,
		Instructions: e.Instructions,
		PrepMinutes:  e.PrepMinutes,
		CookMinutes:  e.CookMinutes,
		TotalMinutes: e.TotalMinutes,
		Difficulty:   model.Difficulty(strings.ToLower(e.Difficulty)),
		MealType:     model.MealType(strings.ToLower(e.MealType)),
		CuisineType:  e.CuisineType,
		ParsedBy:     model.ParsedByModel,
	}
	if e.Servings != nil {
		if n, ok := repair.CoerceInt(*e.Servings); ok {
			d := decimal.NewFromInt(int64(n))
			r.Servings = &d
		}
	}
	return r
}

// ExtractRecipe runs the full model-assisted contract (§4.3): extract,
// retry once on schema failure with a stricter re-prompt, and on a
// second failure fall back to the local parser's output for rawText.
// The returned Recipe has already been through repair.Recipe.
func ExtractRecipe(ctx context.Context, extractor Extractor, rawText string) *model.Recipe {
	extraction, err := extractor.Extract(ctx, rawText)
	if err != nil {
		extraction, err = extractor.Extract(ctx, stricterPrompt(rawText))
	}

	var r *model.Recipe
	if err != nil {
		slog.Warn("model-assisted extraction failed twice, falling back to local parser", "error", err)
		r = local.Parse(rawText)
	} else {
		r = extraction.ToRecipe()
	}

	repair.Recipe(r)
	return r
}

func stricterPrompt(rawText string) string {
	return "Return ONLY a single JSON object matching the schema exactly, no prose, no markdown fences.\n\n" + rawText
}

// systemPrompt declares the output schema and the constraints the model
// must honor: no quantities bleeding into item, no instructions posing
// as ingredients, numeric fields may be ranges or strings.
const systemPrompt = `You extract a recipe from raw text into JSON matching this schema:
{
  "title": string,
  "description": string,
  "ingredients": [{"item": string, "amount": string, "unit": string, "notes": string}],
  "instructions": [string],
  "prep_minutes": number|string|null,
  "cook_minutes": number|string|null,
  "total_minutes": number|string|null,
  "servings": string|null,
  "difficulty": string,
  "meal_type": string,
  "cuisine_type": string
}

Rules:
- "item" must never begin with a quantity or unit (e.g. never "1/2 cup flour" — split into item="flour", amount="1/2", unit="cup").
- Never place a full instruction sentence in "ingredients".
- Numeric fields may be a plain number, a range like "10-15", or null if unknown.
- Respond with the JSON object only, no surrounding text or code fences.`

// geminiPacerKey is the Pacer window key for every Gemini call, since a
// single worker process binds to one provider credential.
const geminiPacerKey = "gemini"

// GeminiExtractor implements Extractor by binding genai.Client exactly
// the way the teacher's GeminiClient does: a thin wrapper plus a
// generic retry helper with full jitter. An optional Pacer throttles
// calls ahead of time, rather than just reacting to 429s after the
// fact.
type GeminiExtractor struct {
	client *genai.Client
	model  string
	pacer  *cache.Pacer
}

// NewGeminiExtractor wraps an already-configured API key into a client.
// pacer may be nil, in which case calls are unthrottled.
func NewGeminiExtractor(ctx context.Context, apiKey string, pacer *cache.Pacer) (*GeminiExtractor, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &GeminiExtractor{client: client, model: "gemini-2.5-pro", pacer: pacer}, nil
}

func (g *GeminiExtractor) Extract(ctx context.Context, rawText string) (*Extraction, error) {
	if g.pacer != nil {
		if err := g.pacer.Wait(ctx, geminiPacerKey); err != nil {
			return nil, &model.RateLimitedError{Op: "modelassist.extract", Err: err}
		}
	}

	genModel := g.client.GenerativeModel(g.model)
	genModel.SystemInstruction = genai.NewUserContent(genai.Text(systemPrompt))

	resp, err := withRetry(ctx, defaultRetryConfig, func() (*genai.GenerateContentResponse, error) {
		return genModel.GenerateContent(ctx, genai.Text(rawText))
	})
	if err != nil {
		return nil, &model.RateLimitedError{Op: "modelassist.extract", Err: err}
	}

	if err := validateResponse(resp); err != nil {
		return nil, &model.SchemaError{Reason: err.Error()}
	}

	extraction, err := parseExtractionJSON(resp)
	if err != nil {
		return nil, &model.SchemaError{Reason: err.Error()}
	}
	return extraction, nil
}

func validateResponse(resp *genai.GenerateContentResponse) error {
	if len(resp.Candidates) == 0 {
		return fmt.Errorf("no candidates returned")
	}
	switch resp.Candidates[0].FinishReason {
	case genai.FinishReasonSafety:
		return fmt.Errorf("response blocked by safety filter")
	case genai.FinishReasonRecitation:
		return fmt.Errorf("response blocked for recitation")
	case genai.FinishReasonMaxTokens:
		return fmt.Errorf("response truncated at max tokens")
	}
	return nil
}

func parseExtractionJSON(resp *genai.GenerateContentResponse) (*Extraction, error) {
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			cleaned := cleanJSONFence(string(txt))
			var extraction Extraction
			if err := json.Unmarshal([]byte(cleaned), &extraction); err != nil {
				return nil, err
			}
			return &extraction, nil
		}
	}
	return nil, fmt.Errorf("no text part in response")
}

var jsonFencePattern = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// cleanJSONFence strips a surrounding markdown code fence, the same
// unwrapping the teacher's cleanJSON performs on a model's JSON reply.
func cleanJSONFence(s string) string {
	if m := jsonFencePattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(s)
}

// retryConfig mirrors the teacher's exponential-backoff-with-full-jitter
// retry shape.
type retryConfig struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
}

var defaultRetryConfig = retryConfig{
	maxAttempts: 3,
	baseDelay:   1 * time.Second,
	maxDelay:    16 * time.Second,
}

func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED")
}

func withRetry[T any](ctx context.Context, cfg retryConfig, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T

	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return zero, err
		}

		if attempt < cfg.maxAttempts-1 {
			ceiling := cfg.baseDelay * time.Duration(1<<uint(attempt))
			if ceiling > cfg.maxDelay {
				ceiling = cfg.maxDelay
			}
			delay := time.Duration(rand.Int64N(int64(ceiling)))

			slog.Warn("model extraction retry", "attempt", attempt+1, "delay", delay, "error", err.Error())

			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// MockExtractor builds its extraction from the local parser's output for
// rawText, without contacting a provider, used when config.IsMockMode() reports no live API key is
// configured — the same offline-exercisable contract the teacher's test
// suite relies on.
type MockExtractor struct{}

func (MockExtractor) Extract(ctx context.Context, rawText string) (*Extraction, error) {
	r := local.Parse(rawText)

	ingredients := make([]ExtractedIngredient, 0, len(r.Ingredients))
	for _, ing := range r.Ingredients {
		ingredients = append(ingredients, ExtractedIngredient{
			Item:   ing.Item,
			Amount: ing.Amount,
			Unit:   ing.Unit,
			Notes:  ing.Notes,
		})
	}

	servings := ""
	if r.Servings != nil {
		servings = r.Servings.String()
	}

	return &Extraction{
		Title:        r.Title,
		Description:  r.Description,
		Ingredients:  ingredients,
		Instructions: r.Instructions,
		PrepMinutes:  r.PrepMinutes,
		CookMinutes:  r.CookMinutes,
		TotalMinutes: r.TotalMinutes,
		Servings:     &servings,
		Difficulty:   string(r.Difficulty),
		MealType:     string(r.MealType),
		CuisineType:  r.CuisineType,
	}, nil
}
