package search

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/reciperun/pipeline/internal/model"
)

func sampleRecipe() *model.Recipe {
	return &model.Recipe{
		Identifier: uuid.MustParse("6c9a6f3e-6e1d-4f0a-9c2e-1c9b8e7d5a3f"),
		Title:      "Matcha Mousse",
		Ingredients: []model.RecipeIngredient{
			{Item: "heavy cream"},
			{Item: "matcha powder"},
		},
		MealType:   model.MealDessert,
		Difficulty: model.DifficultyMedium,
	}
}

func TestToDocumentFlattensIngredientNames(t *testing.T) {
	doc := toDocument(sampleRecipe())

	if doc.Title != "Matcha Mousse" {
		t.Fatalf("expected title preserved, got %q", doc.Title)
	}
	if len(doc.Ingredients) != 2 {
		t.Fatalf("expected 2 ingredients, got %d", len(doc.Ingredients))
	}
	if doc.Ingredients[0].Name != "heavy cream" {
		t.Errorf("expected first ingredient name 'heavy cream', got %q", doc.Ingredients[0].Name)
	}
}

func TestToDocumentGeneratesEmbeddingWhenMissing(t *testing.T) {
	doc := toDocument(sampleRecipe())

	if len(doc.Embedding) != model.EmbeddingDimension {
		t.Fatalf("expected generated embedding of dimension %d, got %d", model.EmbeddingDimension, len(doc.Embedding))
	}
}

func TestToDocumentKeepsExistingEmbedding(t *testing.T) {
	r := sampleRecipe()
	r.Embedding = make([]float32, model.EmbeddingDimension)
	r.Embedding[0] = 1.0

	doc := toDocument(r)

	if doc.Embedding[0] != 1.0 {
		t.Errorf("expected existing embedding to be preserved, got %v", doc.Embedding[:1])
	}
}

func TestTextQueryAppliesFilters(t *testing.T) {
	q := Query{
		Text:         "mousse",
		DifficultyEq: "medium",
		MealTypeEq:   "dessert",
		Mode:         ModeText,
	}

	esQuery := textQuery(q)
	src, err := esQuery.Source()
	if err != nil {
		t.Fatalf("Source() error: %v", err)
	}

	m, ok := src.(map[string]interface{})
	if !ok {
		t.Fatalf("expected map source, got %T", src)
	}
	boolClause, ok := m["bool"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected bool clause, got %v", m)
	}
	if _, ok := boolClause["must"]; !ok {
		t.Error("expected a must clause for the text match")
	}
	if _, ok := boolClause["filter"]; !ok {
		t.Error("expected filter clauses for difficulty/meal_type")
	}
}

func TestTextQueryOmitsMustWhenTextEmpty(t *testing.T) {
	q := Query{DifficultyEq: "easy"}

	esQuery := textQuery(q)
	src, err := esQuery.Source()
	if err != nil {
		t.Fatalf("Source() error: %v", err)
	}

	m := src.(map[string]interface{})
	boolClause := m["bool"].(map[string]interface{})
	if _, ok := boolClause["must"]; ok {
		t.Error("expected no must clause when Text is empty")
	}
}

func TestHybridTextClauseUsesShouldNotMust(t *testing.T) {
	q := Query{Text: "comfort food", Mode: ModeHybrid}

	esQuery := hybridTextClause(q)
	src, err := esQuery.Source()
	if err != nil {
		t.Fatalf("Source() error: %v", err)
	}

	m := src.(map[string]interface{})
	boolClause := m["bool"].(map[string]interface{})
	if _, ok := boolClause["must"]; ok {
		t.Error("expected no must clause in the hybrid text query, text should be a should clause")
	}
	if _, ok := boolClause["should"]; !ok {
		t.Error("expected a should clause for the hybrid text match")
	}
}

func TestBulkUpsertNoopOnEmptyBatch(t *testing.T) {
	idx := &Indexer{}
	if err := idx.BulkUpsert(context.Background(), nil); err != nil {
		t.Fatalf("expected nil error on empty batch, got %v", err)
	}
}

func TestSyncAllStopsOnEmptySource(t *testing.T) {
	idx := &Indexer{}
	src := &fakeEmptySource{}

	result, err := idx.SyncAll(context.Background(), src, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Success != 0 || result.Failed != 0 {
		t.Errorf("expected no work done against an empty source, got %+v", result)
	}
}

type fakeEmptySource struct{}

func (f *fakeEmptySource) AllRecipes(ctx context.Context, offset, limit int) ([]*model.Recipe, error) {
	return nil, nil
}
