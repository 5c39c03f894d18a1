package modelassist

import (
	"context"
	"errors"
	"testing"

	"github.com/reciperun/pipeline/internal/model"
)

func TestToRecipeBuildsIngredientsAndServings(t *testing.T) {
	servings := "4"
	e := &Extraction{
		Title: "Weeknight Chili",
		Ingredients: []ExtractedIngredient{
			{Item: "ground beef", Amount: "1", Unit: "lb"},
		},
		Servings:   &servings,
		Difficulty: "Medium",
		MealType:   "Dinner",
	}

	r := e.ToRecipe()

	if r.Title != "Weeknight Chili" {
		t.Errorf("expected title preserved, got %q", r.Title)
	}
	if len(r.Ingredients) != 1 || r.Ingredients[0].Item != "ground beef" {
		t.Fatalf("expected one ingredient 'ground beef', got %+v", r.Ingredients)
	}
	if r.Servings == nil || r.Servings.IntPart() != 4 {
		t.Errorf("expected servings=4, got %v", r.Servings)
	}
	if r.ParsedBy != model.ParsedByModel {
		t.Errorf("expected ParsedBy=model, got %q", r.ParsedBy)
	}
}

func TestUnmarshalJSONAcceptsStringOrNumberMinutes(t *testing.T) {
	raw := `{"title": "x", "prep_minutes": "10", "cook_minutes": 20, "total_minutes": null}`

	var e Extraction
	if err := (&e).UnmarshalJSON([]byte(raw)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if e.PrepMinutes == nil || *e.PrepMinutes != 10 {
		t.Errorf("expected prep_minutes=10 from string, got %v", e.PrepMinutes)
	}
	if e.CookMinutes == nil || *e.CookMinutes != 20 {
		t.Errorf("expected cook_minutes=20 from number, got %v", e.CookMinutes)
	}
	if e.TotalMinutes != nil {
		t.Errorf("expected total_minutes nil, got %v", e.TotalMinutes)
	}
}

type alwaysFailExtractor struct{}

func (alwaysFailExtractor) Extract(ctx context.Context, rawText string) (*Extraction, error) {
	return nil, errors.New("schema failure")
}

func TestExtractRecipeFallsBackToLocalAfterTwoFailures(t *testing.T) {
	rawText := "Easy Pancakes\n\nIngredients:\n- 2 cups flour\n- 1 cup milk\n\nInstructions:\nMix and cook."

	r := ExtractRecipe(context.Background(), alwaysFailExtractor{}, rawText)

	if r.Title != "Easy Pancakes" {
		t.Errorf("expected fallback to local parser title, got %q", r.Title)
	}
	if len(r.Ingredients) == 0 {
		t.Error("expected local parser to have produced ingredients")
	}
}

type onceFailExtractor struct {
	calls int
}

func (o *onceFailExtractor) Extract(ctx context.Context, rawText string) (*Extraction, error) {
	o.calls++
	if o.calls == 1 {
		return nil, errors.New("schema failure")
	}
	return &Extraction{Title: "Recovered Title", Ingredients: []ExtractedIngredient{
		{Item: "sugar"}, {Item: "butter"},
	}}, nil
}

func TestExtractRecipeRetriesOnceBeforeSucceeding(t *testing.T) {
	extractor := &onceFailExtractor{}

	r := ExtractRecipe(context.Background(), extractor, "some raw text")

	if extractor.calls != 2 {
		t.Fatalf("expected exactly 2 calls (initial + stricter re-prompt), got %d", extractor.calls)
	}
	if r.Title != "Recovered Title" {
		t.Errorf("expected recovered title, got %q", r.Title)
	}
}

func TestCleanJSONFenceStripsCodeFence(t *testing.T) {
	in := "```json\n{\"title\": \"x\"}\n```"
	out := cleanJSONFence(in)
	if out != `{"title": "x"}` {
		t.Errorf("expected fence stripped, got %q", out)
	}
}

func TestCleanJSONFencePassesThroughPlainJSON(t *testing.T) {
	in := `{"title": "x"}`
	if out := cleanJSONFence(in); out != in {
		t.Errorf("expected unchanged, got %q", out)
	}
}

func TestIsRetryableErrorRecognizesTransientCodes(t *testing.T) {
	if !isRetryableError(errors.New("429 too many requests")) {
		t.Error("expected 429 to be retryable")
	}
	if isRetryableError(errors.New("400 bad request")) {
		t.Error("expected 400 to not be retryable")
	}
}

func TestMockExtractorProducesUsableExtraction(t *testing.T) {
	rawText := "Simple Salad\n\nIngredients:\n- 2 cups lettuce\n- 1 tomato\n\nInstructions:\nToss together."

	e, err := MockExtractor{}.Extract(context.Background(), rawText)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Title != "Simple Salad" {
		t.Errorf("expected title from local parse, got %q", e.Title)
	}
	if len(e.Ingredients) == 0 {
		t.Error("expected ingredients from local parse")
	}
}
