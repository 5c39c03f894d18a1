package workflow

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/reciperun/pipeline/internal/model"
	"github.com/reciperun/pipeline/internal/store/postgres"
)

// fakeRecipeStore records Update calls so ReloadOne's contract (write
// back over the existing row, never insert a new one) can be checked
// without a live database.
type fakeRecipeStore struct {
	updated    *model.Recipe
	updatedKey int64
}

func (f *fakeRecipeStore) Create(ctx context.Context, r *model.Recipe) (*postgres.CreateResult, error) {
	return nil, nil
}

func (f *fakeRecipeStore) Update(ctx context.Context, primaryKey int64, r *model.Recipe) error {
	f.updatedKey = primaryKey
	f.updated = r
	return nil
}

func (f *fakeRecipeStore) GetByPrimaryKey(ctx context.Context, primaryKey int64) (*model.Recipe, error) {
	return nil, nil
}

func (f *fakeRecipeStore) UpdateEmbedding(ctx context.Context, primaryKey int64, embedding []float32) error {
	return nil
}

func (f *fakeRecipeStore) AllRecipes(ctx context.Context, offset, limit int) ([]*model.Recipe, error) {
	return nil, nil
}

func TestReloadOneReparsesStagedRawText(t *testing.T) {
	dir := t.TempDir()
	id := uuid.MustParse("6c9a6f3e-6e1d-4f0a-9c2e-1c9b8e7d5a3f")

	staged := &model.Recipe{
		Identifier:   id,
		Title:        "Old Title",
		RawText:      "Garlic Bread\nIngredients:\n- 1 loaf bread\n- 2 tbsp butter\nInstructions:\n1. Toast it.",
		Ingredients:  []model.RecipeIngredient{{Item: "placeholder"}},
		Instructions: []string{"placeholder"},
	}
	raw, err := json.MarshalIndent(staged, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id.String()+".json"), raw, 0o644))

	store := &fakeRecipeStore{}
	a := &Activities{Store: store, StagingDir: dir}

	result, err := a.ReloadOne(context.Background(), 7, id)
	require.NoError(t, err)
	require.True(t, result.Success)

	require.Equal(t, int64(7), store.updatedKey)
	require.Equal(t, "Garlic Bread", store.updated.Title)
	require.NotEmpty(t, store.updated.Ingredients)
	require.Equal(t, id, store.updated.Identifier)

	rewritten, err := os.ReadFile(filepath.Join(dir, id.String()+".json"))
	require.NoError(t, err)
	var onDisk model.Recipe
	require.NoError(t, json.Unmarshal(rewritten, &onDisk))
	require.Equal(t, "Garlic Bread", onDisk.Title)
}

func TestReloadOneRejectsStagedFileWithoutRawText(t *testing.T) {
	dir := t.TempDir()
	id := uuid.MustParse("6c9a6f3e-6e1d-4f0a-9c2e-1c9b8e7d5a3f")

	staged := &model.Recipe{Identifier: id, Title: "No Raw Text"}
	raw, err := json.MarshalIndent(staged, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, id.String()+".json"), raw, 0o644))

	a := &Activities{Store: &fakeRecipeStore{}, StagingDir: dir}

	_, err = a.ReloadOne(context.Background(), 7, id)
	require.Error(t, err)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
}
