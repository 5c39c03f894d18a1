package local

import (
	"strings"
	"testing"
)

func TestParseIngredientSmartFixesCapitalizedIngredientName(t *testing.T) {
	ing := ParseIngredientSmart("1 Eggplant cut into cubes")
	if ing.Item != "Eggplant" {
		t.Errorf("Item = %q, want %q", ing.Item, "Eggplant")
	}
	if ing.Amount != "1" {
		t.Errorf("Amount = %q, want %q", ing.Amount, "1")
	}
	if ing.Notes != "cut into cubes" {
		t.Errorf("Notes = %q, want %q", ing.Notes, "cut into cubes")
	}
}

func TestParseIngredientSmartRecognizesKnownUnit(t *testing.T) {
	ing := ParseIngredientSmart("1/2 cups beef stock")
	if ing.Item != "beef stock" {
		t.Errorf("Item = %q, want %q", ing.Item, "beef stock")
	}
	if ing.Amount != "1/2" {
		t.Errorf("Amount = %q, want %q", ing.Amount, "1/2")
	}
	if ing.Unit != "cups" {
		t.Errorf("Unit = %q, want %q", ing.Unit, "cups")
	}
}

func TestParseIngredientSmartNoQuantity(t *testing.T) {
	ing := ParseIngredientSmart("salt to taste")
	if ing.Item != "salt to taste" {
		t.Errorf("Item = %q, want the line unchanged", ing.Item)
	}
	if ing.Amount != "" {
		t.Errorf("Amount = %q, want empty", ing.Amount)
	}
}

func TestIsValidIngredientFiltersCookingVerbs(t *testing.T) {
	rejects := []string{
		"Preheat the oven to 350F",
		"Stir until combined",
		"For the topping",
		"to taste",
		"optional",
		"(serves 4)",
		"This recipe makes a wonderful weeknight dinner for the family.",
		"1 cup flour **bold**",
	}
	for _, line := range rejects {
		if IsValidIngredient(line) {
			t.Errorf("expected %q to be rejected", line)
		}
	}
}

func TestIsValidIngredientKeepsWellFormedLines(t *testing.T) {
	keeps := []string{
		"1 cup flour",
		"2 eggs",
		"1/2 tsp salt",
		"4oz pancetta",
	}
	for _, line := range keeps {
		if !IsValidIngredient(line) {
			t.Errorf("expected %q to be kept", line)
		}
	}
}

func TestParseExtractsTitleFromFirstLine(t *testing.T) {
	r := Parse("# Chocolate Chip Cookies\n\nIngredients:\n- 1 cup flour\n- 2 eggs\n\nInstructions:\n1. Mix everything\n2. Bake at 350F")
	if r.Title != "Chocolate Chip Cookies" {
		t.Errorf("Title = %q, want %q", r.Title, "Chocolate Chip Cookies")
	}
	if len(r.Ingredients) != 2 {
		t.Fatalf("expected 2 ingredients, got %d: %+v", len(r.Ingredients), r.Ingredients)
	}
	if len(r.Instructions) != 2 {
		t.Fatalf("expected 2 instructions, got %d: %+v", len(r.Instructions), r.Instructions)
	}
}

func TestParseExplicitTitlePrefix(t *testing.T) {
	r := Parse("Title: Sicilian Eggplant Pasta\n\nIngredients:\n- 1 Eggplant cut into cubes\n- 2 cups pasta\n\nInstructions:\n1. Boil pasta")
	if r.Title != "Sicilian Eggplant Pasta" {
		t.Errorf("Title = %q, want %q", r.Title, "Sicilian Eggplant Pasta")
	}
	if r.Ingredients[0].Item != "Eggplant" {
		t.Errorf("Ingredients[0].Item = %q, want %q", r.Ingredients[0].Item, "Eggplant")
	}
	if r.Ingredients[0].Notes != "cut into cubes" {
		t.Errorf("Ingredients[0].Notes = %q, want %q", r.Ingredients[0].Notes, "cut into cubes")
	}
}

func TestParseFallsBackToPlaceholderWhenNoIngredients(t *testing.T) {
	r := Parse("My Weird Post\n\nJust a story about my grandmother, no recipe here.")
	if len(r.Ingredients) != 1 || r.Ingredients[0].Item != "Ingredients listed in recipe text" {
		t.Fatalf("expected a single placeholder ingredient, got %+v", r.Ingredients)
	}
}

func TestParseMatchaMousseBulletsAndAnnotation(t *testing.T) {
	raw := "Matcha Mousse\n\n・2 cups heavy cream\n・3 tbsp matcha powder\n・1/4 cup sugar\n・1 tsp vanilla extract\n(Serves 2)\n"
	r := Parse(raw)
	if len(r.Ingredients) != 4 {
		t.Fatalf("expected 4 ingredients, got %d: %+v", len(r.Ingredients), r.Ingredients)
	}
	for _, ing := range r.Ingredients {
		if strings.Contains(strings.ToLower(ing.Item), "serves") {
			t.Errorf("serving annotation leaked into ingredients: %+v", ing)
		}
	}
}

func TestParseMetadataTimesAndServings(t *testing.T) {
	raw := "Weeknight Chili\n\nPrep time: 15 minutes\nCook time: 40 minutes\nServings: 6\n\nIngredients:\n- 1 lb ground beef\n- 1 can beans\n"
	r := Parse(raw)
	if r.PrepMinutes == nil || *r.PrepMinutes != 15 {
		t.Errorf("PrepMinutes = %v, want 15", r.PrepMinutes)
	}
	if r.CookMinutes == nil || *r.CookMinutes != 40 {
		t.Errorf("CookMinutes = %v, want 40", r.CookMinutes)
	}
	if r.Servings == nil || r.Servings.IntPart() != 6 {
		t.Errorf("Servings = %v, want 6", r.Servings)
	}
}

func TestScoreMealTypePrefersMainCourseOverDessert(t *testing.T) {
	mealType := scoreMealType("Spaghetti with meat sauce, serve with a chocolate dessert on the side")
	if mealType != "dinner" {
		t.Errorf("scoreMealType() = %q, want %q", mealType, "dinner")
	}
}

func TestParseJSONLDRecipeTakesPriorityOverHeuristics(t *testing.T) {
	html := `<html><head>
<script type="application/ld+json">
{"@type": "Recipe", "name": "Weeknight Chili", "recipeIngredient": ["1 lb ground beef", "2 cans kidney beans"],
"recipeInstructions": [{"@type": "HowToStep", "text": "Brown the beef."}, {"@type": "HowToStep", "text": "Add beans and simmer."}],
"prepTime": "PT15M", "cookTime": "PT1H30M", "recipeYield": "6 servings"}
</script>
</head><body><h1>Weeknight Chili</h1><p>Some unrelated marketing copy.</p></body></html>`

	r := Parse(html)

	if r.Title != "Weeknight Chili" {
		t.Fatalf("Title = %q, want %q", r.Title, "Weeknight Chili")
	}
	if len(r.Ingredients) != 2 || r.Ingredients[0].Item != "ground beef" {
		t.Fatalf("Ingredients = %+v", r.Ingredients)
	}
	if len(r.Instructions) != 2 || r.Instructions[0] != "Brown the beef." {
		t.Fatalf("Instructions = %+v", r.Instructions)
	}
	if r.PrepMinutes == nil || *r.PrepMinutes != 15 {
		t.Fatalf("PrepMinutes = %v, want 15", r.PrepMinutes)
	}
	if r.CookMinutes == nil || *r.CookMinutes != 90 {
		t.Fatalf("CookMinutes = %v, want 90", r.CookMinutes)
	}
	if r.Servings == nil || r.Servings.IntPart() != 6 {
		t.Fatalf("Servings = %v, want 6", r.Servings)
	}
	if r.RawText != html {
		t.Fatalf("RawText not preserved")
	}
}

func TestParseStripsHTMLWhenNoJSONLD(t *testing.T) {
	html := `<html><body><script>var x = 1;</script><h1>Garlic Bread</h1>
<p>Ingredients:</p>
<ul><li>1 loaf bread</li><li>2 tbsp butter</li></ul>
<p>Instructions:</p>
<ol><li>Toast the bread.</li></ol>
</body></html>`

	r := Parse(html)

	if strings.Contains(r.Title, "<") {
		t.Fatalf("Title retained markup: %q", r.Title)
	}
	if len(r.Ingredients) == 0 || r.Ingredients[0].Item == "" {
		t.Fatalf("Ingredients = %+v", r.Ingredients)
	}
}
