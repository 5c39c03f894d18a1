package repair

import (
	"testing"

	"github.com/reciperun/pipeline/internal/model"
)

func TestFieldSwapExamples(t *testing.T) {
	cases := []struct {
		raw        string
		item       string
		amount     string
		notes      string
	}{
		{"1/2 cups beef stock", "beef stock", "1/2 cups", ""},
		{"4oz pancetta", "pancetta", "4 oz", ""},
		{"1 Eggplant cut into cubes", "Eggplant", "1", "cut into cubes"},
	}
	for _, c := range cases {
		item, amount, notes := FieldSwap(c.raw)
		if item != c.item {
			t.Errorf("FieldSwap(%q).item = %q, want %q", c.raw, item, c.item)
		}
		if amount != c.amount {
			t.Errorf("FieldSwap(%q).amount = %q, want %q", c.raw, amount, c.amount)
		}
		if notes != c.notes {
			t.Errorf("FieldSwap(%q).notes = %q, want %q", c.raw, notes, c.notes)
		}
	}
}

func TestNormalizeDifficulty(t *testing.T) {
	cases := map[string]model.Difficulty{
		"super easy":      model.DifficultyEasy,
		"this is simple":  model.DifficultyEasy,
		"moderate effort": model.DifficultyMedium,
		"quite difficult": model.DifficultyHard,
		"unrelated text":  "",
	}
	for in, want := range cases {
		if got := NormalizeDifficulty(in); got != want {
			t.Errorf("NormalizeDifficulty(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizeMealType(t *testing.T) {
	if got := NormalizeMealType("Dinner or lunch"); got != model.MealDinner {
		t.Errorf("NormalizeMealType(%q) = %q, want %q", "Dinner or lunch", got, model.MealDinner)
	}
	if got := NormalizeMealType("just a chocolate dessert"); got != model.MealDessert {
		t.Errorf("NormalizeMealType(%q) = %q, want dessert", "just a chocolate dessert", got)
	}
	if got := NormalizeMealType("nothing relevant here"); got != "" {
		t.Errorf("NormalizeMealType(%q) = %q, want empty", "nothing relevant here", got)
	}
}

func TestCoerceInt(t *testing.T) {
	cases := []struct {
		raw  string
		want int
		ok   bool
	}{
		{"2-4", 2, true},
		{"30-45 minutes", 30, true},
		{"no digits here", 0, false},
	}
	for _, c := range cases {
		got, ok := CoerceInt(c.raw)
		if ok != c.ok || got != c.want {
			t.Errorf("CoerceInt(%q) = (%d, %v), want (%d, %v)", c.raw, got, ok, c.want, c.ok)
		}
	}
}

func TestIngredientsDropsFilteredRows(t *testing.T) {
	rows := []model.RecipeIngredient{
		{Item: "1 cup flour"},
		{Item: "Preheat the oven to 350F"},
		{Item: "2 eggs"},
		{Item: "to taste"},
	}
	out := Ingredients(rows)
	if len(out) != 2 {
		t.Fatalf("expected 2 surviving ingredients, got %d: %+v", len(out), out)
	}
	for i, ing := range out {
		if ing.OrderIndex != i {
			t.Errorf("OrderIndex[%d] = %d, want %d", i, ing.OrderIndex, i)
		}
	}
}

func TestRecipeStripsMarkdownArtifacts(t *testing.T) {
	r := &model.Recipe{
		Title:        "**Chocolate** Cake",
		Instructions: []string{"Mix flour &amp; sugar"},
		Ingredients:  []model.RecipeIngredient{{Item: "1 cup flour"}, {Item: "2 eggs"}},
	}
	Recipe(r)
	if r.Title != "Chocolate Cake" {
		t.Errorf("Title = %q, want %q", r.Title, "Chocolate Cake")
	}
	if r.Instructions[0] != "Mix flour sugar" {
		t.Errorf("Instructions[0] = %q, want %q", r.Instructions[0], "Mix flour sugar")
	}
}
