package embed

import (
	"math"
	"testing"

	"github.com/reciperun/pipeline/internal/model"
)

func TestGenerateIsDeterministic(t *testing.T) {
	a := Generate("Chocolate Chip Cookies. Flour, Sugar, Butter")
	b := Generate("Chocolate Chip Cookies. Flour, Sugar, Butter")
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestGenerateHasFixedDimension(t *testing.T) {
	vec := Generate("anything at all")
	if len(vec) != model.EmbeddingDimension {
		t.Fatalf("len = %d, want %d", len(vec), model.EmbeddingDimension)
	}
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("found non-finite component: %v", v)
		}
	}
}

func TestGenerateIsNormalized(t *testing.T) {
	vec := Generate("a reasonably long piece of recipe text with several distinct tokens")
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if math.Abs(sumSquares-1) > 1e-6 {
		t.Errorf("sum of squares = %v, want ~1 (L2-normalized)", sumSquares)
	}
}

func TestGenerateEmptyTextIsZeroVector(t *testing.T) {
	vec := Generate("")
	for i, v := range vec {
		if v != 0 {
			t.Fatalf("vec[%d] = %v, want 0 for empty input", i, v)
		}
	}
}

func TestGenerateDiffersForDifferentText(t *testing.T) {
	a := Generate("Chocolate Chip Cookies")
	b := Generate("Spaghetti Carbonara")
	equal := true
	for i := range a {
		if a[i] != b[i] {
			equal = false
			break
		}
	}
	if equal {
		t.Fatal("expected different text to produce different vectors")
	}
}

func TestForRecipeUsesTitleAndIngredientsOnly(t *testing.T) {
	r := &model.Recipe{
		Title: "Eggplant Parmesan",
		Ingredients: []model.RecipeIngredient{
			{Item: "Eggplant", Amount: "1"},
			{Item: "Tomato Sauce", Amount: "2 cups"},
		},
	}
	direct := Generate("Eggplant Parmesan. Eggplant. Tomato Sauce")
	fromRecipe := ForRecipe(r)
	for i := range direct {
		if direct[i] != fromRecipe[i] {
			t.Fatalf("ForRecipe diverged from direct Generate at index %d", i)
		}
	}
}
