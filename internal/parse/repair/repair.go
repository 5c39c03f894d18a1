// Package repair implements the deterministic post-processing pass applied
// to the output of either parser track before staging (§4.3): field-swap
// repair, normalization maps, numeric coercion, and markdown stripping.
package repair

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/reciperun/pipeline/internal/model"
	"github.com/reciperun/pipeline/internal/parse/local"
)

// Recipe runs the full repair pass over r in place: ingredient field-swap
// and filtering, difficulty/meal-type normalization, and markdown
// stripping from every string field. It never returns an error — a value
// that can't be repaired is simply left as-is for the validator to reject,
// except difficulty and meal type, which become absent when they match
// nothing in their closed sets.
func Recipe(r *model.Recipe) {
	r.Ingredients = Ingredients(r.Ingredients)
	r.Title = stripMarkdown(r.Title)
	r.Description = stripMarkdown(r.Description)
	for i, step := range r.Instructions {
		r.Instructions[i] = stripMarkdown(step)
	}

	r.Difficulty = NormalizeDifficulty(string(r.Difficulty))
	r.MealType = NormalizeMealType(string(r.MealType))
}

// Ingredients applies field-swap repair and the §4.2 filter list to every
// ingredient row, dropping rows the filter rejects.
func Ingredients(rows []model.RecipeIngredient) []model.RecipeIngredient {
	var out []model.RecipeIngredient
	idx := 0
	for _, row := range rows {
		item, amount, notes := FieldSwap(row.Item)
		if item == "" {
			continue
		}
		if !local.IsValidIngredient(item) {
			continue
		}
		if amount == "" {
			amount = row.Amount
		}
		if notes == "" {
			notes = row.Notes
		}
		out = append(out, model.RecipeIngredient{
			Item:       stripMarkdown(item),
			Amount:     amount,
			Unit:       row.Unit,
			Notes:      stripMarkdown(notes),
			OrderIndex: idx,
		})
		idx++
	}
	return out
}

// FieldSwap detects an ingredient whose item field begins with a quantity
// (the model-assisted path sometimes returns the raw line in item rather
// than a split tuple) and splits it into (item, amount, notes), per the
// three examples in Testable Property 5:
//
//	"1/2 cups beef stock"     -> ("beef stock", "1/2 cups", "")
//	"4oz pancetta"            -> ("pancetta", "4 oz", "")
//	"1 Eggplant cut into cubes" -> ("Eggplant", "1", "cut into cubes")
func FieldSwap(raw string) (item, amount, notes string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", ""
	}

	ing := local.ParseIngredientSmart(raw)
	if ing.Item == "" {
		return raw, "", ""
	}

	amount = ing.Amount
	if ing.Unit != "" {
		amount = strings.TrimSpace(ing.Amount + " " + ing.Unit)
	}
	return ing.Item, amount, ing.Notes
}

var difficultyMap = map[string]model.Difficulty{
	"simple": model.DifficultyEasy, "easy": model.DifficultyEasy,
	"moderate": model.DifficultyMedium, "medium": model.DifficultyMedium, "intermediate": model.DifficultyMedium,
	"hard": model.DifficultyHard, "difficult": model.DifficultyHard, "advanced": model.DifficultyHard,
}

// NormalizeDifficulty matches raw by substring against the known
// difficulty vocabulary ("super easy" -> easy, "moderate" -> medium).
// Returns "" when nothing matches.
func NormalizeDifficulty(raw string) model.Difficulty {
	lower := strings.ToLower(raw)
	for substr, level := range difficultyMap {
		if strings.Contains(lower, substr) {
			return level
		}
	}
	return ""
}

// mealTypeVocabulary is checked in main-course-first order so a string
// naming more than one meal type (e.g. "Dinner or lunch") resolves to the
// main-course reading rather than being discarded as ambiguous, matching
// the priority the local parser's meal-type scoring uses.
var mealTypeVocabulary = []model.MealType{
	model.MealDinner, model.MealLunch, model.MealBreakfast, model.MealSnack, model.MealDessert,
}

// NormalizeMealType matches raw by substring against the closed set of
// meal types, in main-course-first priority order. Unmatched input
// returns "".
func NormalizeMealType(raw string) model.MealType {
	lower := strings.ToLower(raw)
	for _, mealType := range mealTypeVocabulary {
		if strings.Contains(lower, string(mealType)) {
			return mealType
		}
	}
	return ""
}

var firstInteger = regexp.MustCompile(`\d+`)

// CoerceInt extracts the first integer appearing in raw ("30-45 minutes"
// -> 30; "2-4" -> 2). Returns ok=false when raw contains no digits.
func CoerceInt(raw string) (value int, ok bool) {
	match := firstInteger.FindString(raw)
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	return n, true
}

var markdownArtifacts = []*regexp.Regexp{
	regexp.MustCompile(`\*\*`),
	regexp.MustCompile(`&amp;`),
	regexp.MustCompile(`\[video\]`),
	regexp.MustCompile(`\[x200b\]`),
	regexp.MustCompile(`^#{1,6}\s*`),
}

// stripMarkdown removes the leaked markup patterns called out in §4.2
// step 5 from a free-text field.
func stripMarkdown(s string) string {
	for _, pattern := range markdownArtifacts {
		s = pattern.ReplaceAllString(s, "")
	}
	return strings.Join(strings.Fields(s), " ")
}
