// Package model holds the canonical recipe shape shared by every stage of
// the pipeline: parsers produce it, the store persists it, the search
// indexer projects it.
package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// EmbeddingDimension is the fixed length of a recipe embedding vector.
const EmbeddingDimension = 384

// Difficulty is a normalized difficulty tier.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// MealType is a normalized meal category.
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
	MealDessert   MealType = "dessert"
)

// ParsedBy records which extraction engine produced a staged recipe.
type ParsedBy string

const (
	ParsedByLocal ParsedBy = "local"
	ParsedByModel ParsedBy = "model"
)

// RecipeIngredient is one line of a recipe's ingredient list.
type RecipeIngredient struct {
	Item       string `json:"item"`
	Amount     string `json:"amount,omitempty"`
	Unit       string `json:"unit,omitempty"`
	Notes      string `json:"notes,omitempty"`
	OrderIndex int    `json:"order_index"`
}

// Recipe is the canonical record described in the data model: a
// deterministic identifier, a title, an ordered ingredient and instruction
// list, optional timing/serving/classification metadata, optional source
// attribution, and an optional embedding.
type Recipe struct {
	Identifier   uuid.UUID          `json:"identifier"`
	Title        string             `json:"title"`
	Description  string             `json:"description,omitempty"`
	Ingredients  []RecipeIngredient `json:"ingredients"`
	Instructions []string           `json:"instructions"`

	PrepMinutes  *int `json:"prep_minutes,omitempty"`
	CookMinutes  *int `json:"cook_minutes,omitempty"`
	TotalMinutes *int `json:"total_minutes,omitempty"`

	Servings    *decimal.Decimal `json:"servings,omitempty"`
	Difficulty  Difficulty       `json:"difficulty,omitempty"`
	MealType    MealType         `json:"meal_type,omitempty"`
	CuisineType string           `json:"cuisine_type,omitempty"`
	DietaryTags []string         `json:"dietary_tags,omitempty"`

	SourceURL           string `json:"source_url,omitempty"`
	SourcePostID        string `json:"source_post_id,omitempty"`
	SourceAuthor        string `json:"source_author,omitempty"`
	SourceScore         *int   `json:"source_score,omitempty"`
	SourceCommentsCount *int   `json:"source_comments_count,omitempty"`

	Embedding []float32 `json:"embedding,omitempty"`

	// RawText and ParsedBy are staging-only metadata: they travel in the
	// staged JSON but are not authoritative store columns.
	RawText  string   `json:"raw_text,omitempty"`
	ParsedBy ParsedBy `json:"parsed_by,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// PlaceholderIngredientItem marks a recipe whose ingredient section the
// local parser could not extract anything usable from. The validator
// rejects any record still carrying only this placeholder (§4.2/§4.5).
const PlaceholderIngredientItem = "Ingredients listed in recipe text"

// NormalizedTitle folds a title to NFC form, lower-cases it, and collapses
// whitespace the same way identity.Identifier does, so dedup-by-title
// comparisons stay consistent wherever they're performed.
func NormalizedTitle(title string) string {
	folded := norm.NFC.String(title)
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Validate enforces the record invariants from §3: non-empty title, at
// least two real (non-placeholder) ingredients, a well-formed embedding
// length. It returns a *ValidationError describing the first violation.
func (r *Recipe) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}

	if realIngredientCount(r.Ingredients) < 2 {
		return &ValidationError{Field: "ingredients", Reason: "too few valid ingredients"}
	}

	if len(r.Instructions) == 0 {
		r.Instructions = []string{"No instructions provided."}
	}

	if len(r.Embedding) != 0 && len(r.Embedding) != EmbeddingDimension {
		return &ValidationError{Field: "embedding", Reason: "must have exactly 384 dimensions"}
	}

	return nil
}

// realIngredientCount counts ingredients that are not the placeholder row
// the local parser emits when it found nothing usable.
func realIngredientCount(ingredients []RecipeIngredient) int {
	n := 0
	for _, ing := range ingredients {
		if strings.TrimSpace(ing.Item) == "" {
			continue
		}
		if ing.Item == PlaceholderIngredientItem {
			continue
		}
		n++
	}
	return n
}

// EmbeddingText builds the text the embedding generator encodes: the title
// followed by ingredient names only (no amounts), exactly as §4.4 specifies.
func (r *Recipe) EmbeddingText() string {
	var sb strings.Builder
	sb.WriteString(r.Title)
	for _, ing := range r.Ingredients {
		if ing.Item == "" || ing.Item == PlaceholderIngredientItem {
			continue
		}
		sb.WriteString(". ")
		sb.WriteString(ing.Item)
	}
	return sb.String()
}
