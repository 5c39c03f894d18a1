// Package local implements the pattern-based recipe extractor: no network
// calls, best-effort on malformed input, fast enough to run over tens of
// thousands of documents per minute on one core (§4.2). HTML input (feed
// items sometimes arrive as rendered HTML rather than markdown) is
// stripped with goquery before the heuristic pipeline runs, and a
// schema.org JSON-LD Recipe block, when present, is read directly as a
// higher-confidence shortcut ahead of the heuristic parse.
package local

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/reciperun/pipeline/internal/model"
)

// ingredientsHeading and instructionsHeading match a heading line that opens
// the ingredients or instructions section of a loosely structured post.
var (
	ingredientsHeading  = regexp.MustCompile(`(?i)^#{0,3}\s*ingredients\s*:?\s*$`)
	instructionsHeading = regexp.MustCompile(`(?i)^#{0,3}\s*(instructions|method|directions|preparation)\s*:?\s*$`)
	headingMarkers      = regexp.MustCompile(`^#{1,6}\s*`)
	titlePrefix         = regexp.MustCompile(`(?i)^title\s*:\s*`)
	bulletPrefix        = regexp.MustCompile(`^[\s]*[-*•・]\s*`)
	numberedPrefix      = regexp.MustCompile(`^\s*\d+[.)]\s*`)
)

// leadingQuantity captures a leading quantity token: an integer, a decimal,
// a vulgar fraction (1/2), a mixed number (1 1/2), or a range (2-4).
var leadingQuantity = regexp.MustCompile(`^(\d+\s+\d+/\d+|\d+/\d+|\d+(\.\d+)?\s*-\s*\d+(\.\d+)?|\d+(\.\d+)?)\s*`)

// knownUnits is the closed set of units parse_ingredient_smart recognizes
// after a leading quantity. A token that isn't in this set and is
// capitalized is treated as the start of the ingredient name instead.
var knownUnits = map[string]bool{
	"cup": true, "cups": true, "tbsp": true, "tablespoon": true, "tablespoons": true,
	"tsp": true, "teaspoon": true, "teaspoons": true, "ml": true, "milliliter": true,
	"milliliters": true, "l": true, "liter": true, "liters": true, "oz": true,
	"ounce": true, "ounces": true, "fl oz": true, "g": true, "gram": true,
	"grams": true, "kg": true, "kilogram": true, "kilograms": true, "lb": true,
	"lbs": true, "pound": true, "pounds": true, "piece": true, "pieces": true,
	"can": true, "cans": true, "clove": true, "cloves": true, "pinch": true,
	"pinches": true, "dash": true, "dashes": true,
}

// cookingVerbs opens an ingredient filter: a line starting with one of
// these is an instruction step, not an ingredient.
var cookingVerbs = []string{
	"preheat", "bake", "stir", "cook", "fill", "toss", "drain", "sift",
	"coat", "serve", "remove", "combine", "bring to", "deglaze", "warm", "heat",
	"mix", "whisk", "pour", "chop", "slice", "dice", "season", "garnish",
	"simmer", "boil", "fry", "roast", "grill", "marinate", "chill", "refrigerate",
}

// sectionHeaderPhrases marks a line as a sub-heading rather than an ingredient.
var sectionHeaderPhrases = []string{
	"for the", "for filling", "for topping", "preparation", "instructions",
}

// standaloneAnnotationPatterns mark a line as a lone annotation rather than an
// ingredient ("to taste", "optional", "(serves N)").
var standaloneAnnotationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^to taste$`),
	regexp.MustCompile(`(?i)^optional$`),
	regexp.MustCompile(`(?i)^as needed$`),
	regexp.MustCompile(`(?i)^\(serves?\s+\d+\)$`),
}

var leakedMarkup = []string{"**", "&amp;", "[video]", "[x200b]"}

// sentenceActionVerbs are checked against a candidate line that already
// ends in '.' and has six or more words; their presence confirms it's a
// full instruction sentence rather than a terse ingredient note.
var sentenceActionVerbs = []string{
	"mix", "stir", "add", "combine", "whisk", "fold", "pour", "bake", "cook",
	"heat", "serve", "chop", "dice", "slice", "place", "put", "set", "make",
	"makes", "enjoy", "share", "recipe",
}

// Parse extracts a best-effort Recipe from raw input, which may be plain
// text or an HTML fragment. It never returns an error; callers pass the
// result through model.Validate to decide whether it's usable.
func Parse(raw string) *model.Recipe {
	text := raw
	if looksLikeHTML(raw) {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw)); err == nil {
			if ld := extractJSONLDRecipe(doc); ld != nil {
				ld.RawText = raw
				return ld
			}
			text = textFromHTML(doc)
		}
	}

	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")

	r := &model.Recipe{
		Title:    extractTitle(lines),
		RawText:  raw,
		ParsedBy: model.ParsedByLocal,
	}

	ingredientLines, instructionLines := splitSections(lines)

	ingredients := parseIngredientLines(ingredientLines)
	if len(ingredients) == 0 {
		ingredients = []model.RecipeIngredient{{Item: model.PlaceholderIngredientItem}}
	}
	r.Ingredients = ingredients

	r.Instructions = extractInstructions(instructionLines)

	applyMetadata(r, text)
	r.MealType = scoreMealType(text)

	return r
}

// looksLikeHTML is a cheap sniff for a rendered HTML fragment, not a full
// content-type check: any opening tag is enough to route through goquery.
var htmlTagPattern = regexp.MustCompile(`(?i)<\s*[a-z][a-z0-9]*(\s+[^<>]*)?>`)

func looksLikeHTML(raw string) bool {
	return htmlTagPattern.MatchString(raw)
}

// textFromHTML strips non-content elements and flattens the remaining
// body text, mirroring the teacher's parseWebpageContent but repurposed
// from "fetch a page" to "clean a fragment already in hand."
func textFromHTML(doc *goquery.Document) string {
	doc.Find("script, style, nav, footer, header, aside, noscript, iframe").Remove()

	var b strings.Builder
	if title := strings.TrimSpace(doc.Find("h1").First().Text()); title != "" {
		b.WriteString("Title: ")
		b.WriteString(title)
		b.WriteString("\n\n")
	}
	b.WriteString(cleanHTMLText(doc.Find("body").Text()))
	return b.String()
}

func cleanHTMLText(text string) string {
	lines := strings.Split(text, "\n")
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// jsonLDGraph unwraps a top-level {"@graph": [...]} envelope, which some
// sites use to bundle multiple structured-data blocks in one script tag.
type jsonLDGraph struct {
	Graph []json.RawMessage `json:"@graph"`
}

// jsonLDRecipe is the subset of schema.org/Recipe fields worth lifting
// directly instead of re-deriving them from free text.
type jsonLDRecipe struct {
	Type               json.RawMessage `json:"@type"`
	Name               string          `json:"name"`
	Description        string          `json:"description"`
	RecipeIngredient   []string        `json:"recipeIngredient"`
	RecipeInstructions json.RawMessage `json:"recipeInstructions"`
	PrepTime           string          `json:"prepTime"`
	CookTime           string          `json:"cookTime"`
	TotalTime          string          `json:"totalTime"`
	RecipeYield        json.RawMessage `json:"recipeYield"`
}

type jsonLDHowToStep struct {
	Text string `json:"text"`
	Name string `json:"name"`
}

// extractJSONLDRecipe scans every application/ld+json block on the page
// for a schema.org Recipe and returns the first one found, grounded in
// the teacher's JSON-LD image-extraction scan in gemini.go, generalized
// from "image" to the full set of recipe fields.
func extractJSONLDRecipe(doc *goquery.Document) *model.Recipe {
	var found *model.Recipe
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, candidate := range jsonLDCandidates(s.Text()) {
			if r := recipeFromJSONLD(candidate); r != nil {
				found = r
				return false
			}
		}
		return true
	})
	return found
}

// jsonLDCandidates normalizes a JSON-LD payload into a flat list of
// objects to test: it may be a single object, an array of objects, or a
// {"@graph": [...]} wrapper around either.
func jsonLDCandidates(raw string) []json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	var top json.RawMessage
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return nil
	}

	var arr []json.RawMessage
	if err := json.Unmarshal(top, &arr); err == nil {
		return arr
	}

	var graph jsonLDGraph
	if err := json.Unmarshal(top, &graph); err == nil && len(graph.Graph) > 0 {
		return graph.Graph
	}

	return []json.RawMessage{top}
}

func recipeFromJSONLD(raw json.RawMessage) *model.Recipe {
	var ld jsonLDRecipe
	if err := json.Unmarshal(raw, &ld); err != nil {
		return nil
	}
	if !isRecipeType(ld.Type) || strings.TrimSpace(ld.Name) == "" || len(ld.RecipeIngredient) == 0 {
		return nil
	}

	r := &model.Recipe{
		Title:       strings.TrimSpace(ld.Name),
		Description: strings.TrimSpace(ld.Description),
		ParsedBy:    model.ParsedByLocal,
	}

	idx := 0
	for _, line := range ld.RecipeIngredient {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		ing := ParseIngredientSmart(line)
		ing.OrderIndex = idx
		idx++
		r.Ingredients = append(r.Ingredients, ing)
	}
	if len(r.Ingredients) == 0 {
		r.Ingredients = []model.RecipeIngredient{{Item: model.PlaceholderIngredientItem}}
	}

	r.Instructions = parseJSONLDInstructions(ld.RecipeInstructions)
	r.PrepMinutes = isoDurationMinutes(ld.PrepTime)
	r.CookMinutes = isoDurationMinutes(ld.CookTime)
	r.TotalMinutes = isoDurationMinutes(ld.TotalTime)
	r.Servings = jsonLDYieldCount(ld.RecipeYield)
	r.MealType = scoreMealType(ld.Name + " " + ld.Description)

	return r
}

func isRecipeType(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return strings.EqualFold(single, "Recipe")
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, t := range list {
			if strings.EqualFold(t, "Recipe") {
				return true
			}
		}
	}
	return false
}

// parseJSONLDInstructions handles the three shapes recipeInstructions
// shows up in the wild: a single newline-separated string, a flat array
// of strings, or an array of HowToStep objects.
func parseJSONLDInstructions(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return splitInstructionText(single)
	}

	var steps []jsonLDHowToStep
	if err := json.Unmarshal(raw, &steps); err == nil {
		var out []string
		for _, step := range steps {
			text := strings.TrimSpace(step.Text)
			if text == "" {
				text = strings.TrimSpace(step.Name)
			}
			if text != "" {
				out = append(out, text)
			}
		}
		if len(out) > 0 {
			return out
		}
	}

	var strs []string
	if err := json.Unmarshal(raw, &strs); err == nil {
		return strs
	}

	return nil
}

func splitInstructionText(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// isoDurationMinutes parses the subset of ISO-8601 durations schema.org
// recipes use ("PT1H30M", "PT45M") into whole minutes.
var isoDurationRe = regexp.MustCompile(`(?i)^PT(?:(\d+)H)?(?:(\d+)M)?`)

func isoDurationMinutes(s string) *int {
	m := isoDurationRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil || (m[1] == "" && m[2] == "") {
		return nil
	}
	minutes := 0
	if m[1] != "" {
		h, _ := strconv.Atoi(m[1])
		minutes += h * 60
	}
	if m[2] != "" {
		mm, _ := strconv.Atoi(m[2])
		minutes += mm
	}
	return &minutes
}

var yieldDigits = regexp.MustCompile(`\d+(\.\d+)?`)

// jsonLDYieldCount reads recipeYield, which schema.org allows as a plain
// number, a string ("4 servings"), or an array of either.
func jsonLDYieldCount(raw json.RawMessage) *decimal.Decimal {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return yieldFromString(s)
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		d := decimal.NewFromFloat(n)
		return &d
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil && len(arr) > 0 {
		return yieldFromString(arr[0])
	}
	return nil
}

func yieldFromString(s string) *decimal.Decimal {
	m := yieldDigits.FindString(s)
	if m == "" {
		return nil
	}
	d, err := decimal.NewFromString(m)
	if err != nil {
		return nil
	}
	return &d
}

// extractTitle takes the first non-empty line, an explicit "Title:" prefix
// stripped, and any leading markdown heading markers removed.
func extractTitle(lines []string) string {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		trimmed = titlePrefix.ReplaceAllString(trimmed, "")
		trimmed = headingMarkers.ReplaceAllString(trimmed, "")
		return strings.TrimSpace(trimmed)
	}
	return ""
}

// splitSections identifies an ingredients block and an instructions block
// by heading keyword. When no headings are found, it falls back to
// splitSectionsByHeuristic: bulleted lines become ingredient candidates
// and numbered lines become instruction candidates.
func splitSections(lines []string) (ingredients, instructions []string) {
	ingredientsIdx, instructionsIdx := -1, -1
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case ingredientsHeading.MatchString(trimmed):
			ingredientsIdx = i
		case instructionsHeading.MatchString(trimmed):
			instructionsIdx = i
		}
	}

	if ingredientsIdx == -1 && instructionsIdx == -1 {
		return splitSectionsByHeuristic(lines)
	}

	end := len(lines)
	if ingredientsIdx != -1 && instructionsIdx != -1 && instructionsIdx > ingredientsIdx {
		ingredients = lines[ingredientsIdx+1 : instructionsIdx]
		instructions = lines[instructionsIdx+1 : end]
	} else if ingredientsIdx != -1 {
		ingredients = lines[ingredientsIdx+1:]
	} else if instructionsIdx != -1 {
		instructions = lines[instructionsIdx+1:]
	}
	return ingredients, instructions
}

// splitSectionsByHeuristic is the fallback when no section headings are
// present: bulleted lines are candidate ingredients, numbered lines are
// candidate instructions, skipping the title line.
func splitSectionsByHeuristic(lines []string) (ingredients, instructions []string) {
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || i == 0 {
			continue
		}
		switch {
		case bulletPrefix.MatchString(line):
			ingredients = append(ingredients, line)
		case numberedPrefix.MatchString(line):
			instructions = append(instructions, line)
		}
	}
	return ingredients, instructions
}

// parseIngredientLines splits raw ingredient-section lines into candidate
// lines, runs parse_ingredient_smart over each, and drops the ones the
// ingredient filter rejects.
func parseIngredientLines(lines []string) []model.RecipeIngredient {
	var out []model.RecipeIngredient
	idx := 0
	for _, line := range lines {
		candidate := strings.TrimSpace(bulletPrefix.ReplaceAllString(line, ""))
		if candidate == "" {
			continue
		}
		if !IsValidIngredient(candidate) {
			continue
		}
		ing := ParseIngredientSmart(candidate)
		ing.OrderIndex = idx
		idx++
		out = append(out, ing)
	}
	return out
}

// ParseIngredientSmart extracts {item, amount, unit, notes} from one
// ingredient line (§4.2 step 4). It matches a leading quantity, then
// decides whether the following token is a unit or the start of the
// ingredient name itself — fixing cases like "1 Eggplant cut into cubes"
// where "Eggplant" is capitalized and not a known unit.
func ParseIngredientSmart(line string) model.RecipeIngredient {
	line = strings.TrimSpace(line)

	loc := leadingQuantity.FindStringIndex(line)
	if loc == nil {
		return model.RecipeIngredient{Item: line}
	}

	amount := strings.TrimSpace(line[:loc[1]])
	rest := strings.TrimSpace(line[loc[1]:])

	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return model.RecipeIngredient{Item: "", Amount: amount}
	}

	candidateUnit := strings.ToLower(strings.Trim(fields[0], ","))
	if knownUnits[candidateUnit] {
		remainder := strings.TrimSpace(strings.TrimPrefix(rest, fields[0]))
		item, notes := splitItemAndNotes(remainder)
		return model.RecipeIngredient{Item: item, Amount: amount, Unit: candidateUnit, Notes: notes}
	}

	item, notes := splitItemAndNotes(rest)
	return model.RecipeIngredient{Item: item, Amount: amount, Notes: notes}
}

// splitItemAndNotes treats the portion after a comma (or a participial
// clause introduced by a past-tense verb like "cut", "chopped", "sliced")
// as a notes annotation rather than part of the ingredient name.
var notesClause = regexp.MustCompile(`(?i),\s*|\s+(cut|chopped|sliced|diced|minced|melted|softened|peeled|grated|crushed)\b`)

func splitItemAndNotes(remainder string) (item, notes string) {
	loc := notesClause.FindStringIndex(remainder)
	if loc == nil {
		return strings.TrimSpace(remainder), ""
	}
	item = strings.TrimSpace(remainder[:loc[0]])
	notesStart := loc[0]
	if remainder[loc[0]] != ',' {
		notesStart = loc[0] + 1 // keep the verb itself in notes
	} else {
		notesStart = loc[1]
	}
	notes = strings.TrimSpace(remainder[notesStart:])
	return item, notes
}

// IsValidIngredient applies the §4.2 step 5 filter: reject lines that
// look like instructions, headers, standalone annotations, leaked markup,
// or full sentences.
func IsValidIngredient(line string) bool {
	lower := strings.ToLower(line)

	if len(line) > 200 {
		return false
	}

	for _, verb := range cookingVerbs {
		if strings.HasPrefix(lower, verb) {
			return false
		}
	}

	for _, phrase := range sectionHeaderPhrases {
		if strings.HasPrefix(lower, phrase) {
			return false
		}
	}

	for _, pattern := range standaloneAnnotationPatterns {
		if pattern.MatchString(strings.TrimSpace(line)) {
			return false
		}
	}

	for _, marker := range leakedMarkup {
		if strings.Contains(lower, strings.ToLower(marker)) {
			return false
		}
	}

	if strings.HasSuffix(strings.TrimSpace(line), ".") && isFullSentence(lower) {
		return false
	}

	return true
}

func isFullSentence(lower string) bool {
	words := strings.Fields(lower)
	if len(words) < 6 {
		return false
	}
	for _, verb := range sentenceActionVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// extractInstructions trims numbered/bulleted prefixes from the
// instructions section and preserves line order.
func extractInstructions(lines []string) []string {
	var out []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		trimmed = numberedPrefix.ReplaceAllString(trimmed, "")
		trimmed = bulletPrefix.ReplaceAllString(trimmed, "")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

var (
	prepTimeRe  = regexp.MustCompile(`(?i)prep(?:aration)?\s*time\D{0,10}(\d+)`)
	cookTimeRe  = regexp.MustCompile(`(?i)cook(?:ing)?\s*time\D{0,10}(\d+)`)
	totalTimeRe = regexp.MustCompile(`(?i)total\s*time\D{0,10}(\d+)`)
	servingsRe  = regexp.MustCompile(`(?i)servings?\D{0,10}(\d+)`)
)

// applyMetadata scans raw text for prep/cook/total time and servings, per
// §4.2 step 7. Difficulty and cuisine are not extracted from the text: the
// local parser leaves both empty, so the repair pass has nothing of theirs
// to normalize on this track.
func applyMetadata(r *model.Recipe, raw string) {
	if m := prepTimeRe.FindStringSubmatch(raw); m != nil {
		r.PrepMinutes = atoiPtr(m[1])
	}
	if m := cookTimeRe.FindStringSubmatch(raw); m != nil {
		r.CookMinutes = atoiPtr(m[1])
	}
	if m := totalTimeRe.FindStringSubmatch(raw); m != nil {
		r.TotalMinutes = atoiPtr(m[1])
	}
	if m := servingsRe.FindStringSubmatch(raw); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			d := decimal.NewFromInt(int64(n))
			r.Servings = &d
		}
	}
}

func atoiPtr(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

// mealTypeKeywords maps a meal category to its detection keywords. Main
// course indicators are scored with a higher weight than dessert
// indicators so a post mentioning both ("serve with chocolate sauce" in a
// pasta recipe) still classifies as dinner.
var mealTypeKeywords = map[model.MealType][]string{
	model.MealBreakfast: {"breakfast", "pancake", "waffle", "omelet", "cereal", "brunch"},
	model.MealLunch:     {"lunch", "sandwich", "salad", "wrap"},
	model.MealDinner:    {"dinner", "meat", "pasta", "rice", "noodle", "curry", "brat", "sausage", "steak", "roast"},
	model.MealSnack:     {"snack", "appetizer", "finger food"},
	model.MealDessert:   {"dessert", "cake", "cookie", "pie", "chocolate", "sweet", "frosting", "icing"},
}

// mealTypeWeights gives main-course keyword hits a heavier prior than
// dessert ones, per §4.2 step 8.
var mealTypeWeights = map[model.MealType]int{
	model.MealDinner:  3,
	model.MealLunch:   2,
	model.MealBreakfast: 2,
	model.MealSnack:   1,
	model.MealDessert: 1,
}

func scoreMealType(raw string) model.MealType {
	lower := strings.ToLower(raw)
	best := model.MealType("")
	bestScore := 0
	for mealType, keywords := range mealTypeKeywords {
		score := 0
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				score += mealTypeWeights[mealType]
			}
		}
		if score > bestScore {
			bestScore = score
			best = mealType
		}
	}
	return best
}
