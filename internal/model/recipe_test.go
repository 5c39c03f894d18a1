package model

import (
	"testing"

	"github.com/google/uuid"
)

func TestRecipeValidateRejectsEmptyTitle(t *testing.T) {
	r := &Recipe{
		Title:       "",
		Ingredients: []RecipeIngredient{{Item: "flour"}, {Item: "sugar"}},
	}
	if err := r.Validate(); err == nil {
		t.Fatal("expected validation error for empty title")
	}
}

func TestRecipeValidateRejectsTooFewIngredients(t *testing.T) {
	r := &Recipe{
		Title:       "Cookies",
		Ingredients: []RecipeIngredient{{Item: "flour"}},
	}
	err := r.Validate()
	if err == nil {
		t.Fatal("expected validation error for too few ingredients")
	}
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if ve.Reason != "too few valid ingredients" {
		t.Errorf("Reason = %q, want the E1 scenario message", ve.Reason)
	}
}

func TestRecipeValidateRejectsAllPlaceholders(t *testing.T) {
	r := &Recipe{
		Title: "Mystery Dish",
		Ingredients: []RecipeIngredient{
			{Item: PlaceholderIngredientItem},
		},
	}
	if err := r.Validate(); err == nil {
		t.Fatal("expected validation error when only placeholder ingredients remain")
	}
}

func TestRecipeValidateDefaultsMissingInstructions(t *testing.T) {
	r := &Recipe{
		Title:       "Cookies",
		Ingredients: []RecipeIngredient{{Item: "flour"}, {Item: "sugar"}},
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.Instructions) != 1 {
		t.Fatalf("expected a placeholder instruction, got %v", r.Instructions)
	}
}

func TestRecipeValidateRejectsBadEmbeddingLength(t *testing.T) {
	r := &Recipe{
		Title:       "Cookies",
		Ingredients: []RecipeIngredient{{Item: "flour"}, {Item: "sugar"}},
		Embedding:   make([]float32, 10),
	}
	if err := r.Validate(); err == nil {
		t.Fatal("expected validation error for malformed embedding length")
	}
}

func TestRecipeEmbeddingText(t *testing.T) {
	r := &Recipe{
		Title: "Eggplant Parmesan",
		Ingredients: []RecipeIngredient{
			{Item: "Eggplant"},
			{Item: "Tomato Sauce"},
			{Item: PlaceholderIngredientItem},
		},
	}
	got := r.EmbeddingText()
	want := "Eggplant Parmesan. Eggplant. Tomato Sauce"
	if got != want {
		t.Errorf("EmbeddingText() = %q, want %q", got, want)
	}
}

func TestNormalizedTitle(t *testing.T) {
	cases := map[string]string{
		"  Chocolate   Chip Cookies  ": "chocolate chip cookies",
		"Chocolate Chip Cookies":       "chocolate chip cookies",
		"CHOCOLATE CHIP COOKIES":       "chocolate chip cookies",
	}
	for in, want := range cases {
		if got := NormalizedTitle(in); got != want {
			t.Errorf("NormalizedTitle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRecipeIdentifierFieldRoundtrip(t *testing.T) {
	id := uuid.New()
	r := &Recipe{Identifier: id}
	if r.Identifier != id {
		t.Fatalf("identifier field did not round-trip")
	}
}
