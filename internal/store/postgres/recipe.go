// Package postgres is the relational store adapter (§4.5): idempotent
// insert/update against the recipes/ingredients/measurements schema,
// dedup by identifier first and normalized title second.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/reciperun/pipeline/internal/model"
	"github.com/reciperun/pipeline/internal/pkg/database"
)

// ErrNotFound is returned by lookups that find nothing, distinct from a
// dedup hit (which returns the existing row, never an error).
var ErrNotFound = errors.New("recipe not found")

// Store handles recipe, ingredient, and measurement catalog persistence
// against Postgres.
type Store struct {
	db *sql.DB
}

// New creates a Store over an already-opened *sql.DB (pgx stdlib driver).
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateResult is the outcome of Create: either a fresh insert or a
// dedup hit against an existing row.
type CreateResult struct {
	PrimaryKey     int64
	Identifier     uuid.UUID
	AlreadyExisted bool
}

// Create applies the §4.5 dedup policy in order: identifier match, then
// normalized-title match, then insert. The validation gate runs first so
// a record that fails it is rejected before any I/O.
func (s *Store) Create(ctx context.Context, r *model.Recipe) (*CreateResult, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var result *CreateResult
	err := database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		if existing, err := findByIdentifierTx(ctx, tx, r.Identifier); err == nil {
			result = &CreateResult{PrimaryKey: existing.pk, Identifier: existing.identifier, AlreadyExisted: true}
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		normalizedTitle := model.NormalizedTitle(r.Title)
		if existing, err := findByNormalizedTitleTx(ctx, tx, normalizedTitle); err == nil {
			result = &CreateResult{PrimaryKey: existing.pk, Identifier: existing.identifier, AlreadyExisted: true}
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		if _, err := tx.ExecContext(ctx, "SAVEPOINT insert_recipe"); err != nil {
			return err
		}
		pk, err := insertRecipeTx(ctx, tx, r)
		if err != nil {
			// A unique-index violation means a concurrent transaction won the
			// race; the loser observes the now-existing row (§5, §7 kind 4).
			// The failed insert aborts the transaction, so it rolls back to
			// the savepoint before looking the row up.
			if isUniqueViolation(err) {
				if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT insert_recipe"); rbErr != nil {
					return err
				}
				if existing, lookupErr := findByIdentifierTx(ctx, tx, r.Identifier); lookupErr == nil {
					result = &CreateResult{PrimaryKey: existing.pk, Identifier: existing.identifier, AlreadyExisted: true}
					return nil
				}
			}
			return err
		}

		if err := insertJunctionRowsTx(ctx, tx, pk, r.Ingredients); err != nil {
			return err
		}

		result = &CreateResult{PrimaryKey: pk, Identifier: r.Identifier, AlreadyExisted: false}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type existingRow struct {
	pk         int64
	identifier uuid.UUID
}

func findByIdentifierTx(ctx context.Context, tx *sql.Tx, identifier uuid.UUID) (*existingRow, error) {
	row := &existingRow{}
	err := tx.QueryRowContext(ctx, `SELECT id, identifier FROM recipes WHERE identifier = $1`, identifier).
		Scan(&row.pk, &row.identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func findByNormalizedTitleTx(ctx context.Context, tx *sql.Tx, normalizedTitle string) (*existingRow, error) {
	row := &existingRow{}
	err := tx.QueryRowContext(ctx, `SELECT id, identifier FROM recipes WHERE lower(regexp_replace(title, '\s+', ' ', 'g')) = $1 LIMIT 1`, normalizedTitle).
		Scan(&row.pk, &row.identifier)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

func insertRecipeTx(ctx context.Context, tx *sql.Tx, r *model.Recipe) (int64, error) {
	instructionsJSON, err := json.Marshal(r.Instructions)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now

	var embedding interface{}
	if len(r.Embedding) > 0 {
		embedding = float32SliceToVectorLiteral(r.Embedding)
	}

	query := `
		INSERT INTO recipes (
			identifier, title, description, instructions_json,
			prep_minutes, cook_minutes, total_minutes, servings,
			difficulty, cuisine_type, meal_type, dietary_tags,
			source_url, source_post_id, source_author, source_score, source_comments_count,
			embedding, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20
		) RETURNING id
	`

	var pk int64
	err = tx.QueryRowContext(ctx, query,
		r.Identifier, r.Title, r.Description, instructionsJSON,
		r.PrepMinutes, r.CookMinutes, r.TotalMinutes, decimalValue(r.Servings),
		nullableString(string(r.Difficulty)), nullableString(r.CuisineType), nullableString(string(r.MealType)), TextArray(r.DietaryTags),
		nullableString(r.SourceURL), nullableString(r.SourcePostID), nullableString(r.SourceAuthor), r.SourceScore, r.SourceCommentsCount,
		embedding, r.CreatedAt, r.UpdatedAt,
	).Scan(&pk)
	return pk, err
}

func insertJunctionRowsTx(ctx context.Context, tx *sql.Tx, recipePK int64, ingredients []model.RecipeIngredient) error {
	for _, ing := range ingredients {
		ingredientID, err := upsertCatalogRowTx(ctx, tx, "ingredients", ing.Item)
		if err != nil {
			return err
		}

		var measurementID sql.NullInt64
		if ing.Unit != "" {
			id, err := upsertCatalogRowTx(ctx, tx, "measurements", ing.Unit)
			if err != nil {
				return err
			}
			measurementID = sql.NullInt64{Int64: id, Valid: true}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO recipe_ingredients (recipe_id, ingredient_id, measurement_id, amount, notes, order_index)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (recipe_id, ingredient_id, order_index) DO NOTHING
		`, recipePK, ingredientID, measurementID, ing.Amount, ing.Notes, ing.OrderIndex)
		if err != nil {
			return err
		}
	}
	return nil
}

// upsertCatalogRowTx upserts a name into the ingredients or measurements
// catalog and returns its id, using the classic ON CONFLICT ... RETURNING
// pattern so concurrent inserts of the same name never fail.
func upsertCatalogRowTx(ctx context.Context, tx *sql.Tx, table, name string) (int64, error) {
	var id int64
	query := `
		INSERT INTO ` + table + ` (name) VALUES ($1)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id
	`
	err := tx.QueryRowContext(ctx, query, name).Scan(&id)
	return id, err
}

// GetByIdentifier loads a recipe by its deterministic identifier.
func (s *Store) GetByIdentifier(ctx context.Context, identifier uuid.UUID) (*model.Recipe, error) {
	r, _, err := s.getOne(ctx, `WHERE identifier = $1`, identifier)
	return r, err
}

// PrimaryKeyByIdentifier resolves the internal row id behind a public
// identifier, the handle reload_recipe needs to call sync_one/embed_one.
func (s *Store) PrimaryKeyByIdentifier(ctx context.Context, identifier uuid.UUID) (int64, error) {
	_, pk, err := s.getOne(ctx, `WHERE identifier = $1`, identifier)
	return pk, err
}

// GetByTitle loads a recipe by normalized title.
func (s *Store) GetByTitle(ctx context.Context, title string) (*model.Recipe, error) {
	r, _, err := s.getOne(ctx, `WHERE lower(regexp_replace(title, '\s+', ' ', 'g')) = $1`, model.NormalizedTitle(title))
	return r, err
}

// GetByPrimaryKey loads a recipe by its internal row id, the handle
// sync_one/embed_one activities receive from load_one.
func (s *Store) GetByPrimaryKey(ctx context.Context, primaryKey int64) (*model.Recipe, error) {
	r, _, err := s.getOne(ctx, `WHERE id = $1`, primaryKey)
	return r, err
}

func (s *Store) getOne(ctx context.Context, where string, arg interface{}) (*model.Recipe, int64, error) {
	query := `
		SELECT id, identifier, title, description, instructions_json,
			prep_minutes, cook_minutes, total_minutes, servings,
			COALESCE(difficulty, ''), COALESCE(cuisine_type, ''), COALESCE(meal_type, ''), dietary_tags,
			COALESCE(source_url, ''), COALESCE(source_post_id, ''), COALESCE(source_author, ''), source_score, source_comments_count,
			created_at, updated_at
		FROM recipes ` + where

	r := &model.Recipe{}
	var pk int64
	var instructionsJSON []byte
	var difficulty, mealType string
	var servings sql.NullString
	var dietaryTags TextArray

	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&pk, &r.Identifier, &r.Title, &r.Description, &instructionsJSON,
		&r.PrepMinutes, &r.CookMinutes, &r.TotalMinutes, &servings,
		&difficulty, &r.CuisineType, &mealType, &dietaryTags,
		&r.SourceURL, &r.SourcePostID, &r.SourceAuthor, &r.SourceScore, &r.SourceCommentsCount,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, err
	}

	r.Difficulty = model.Difficulty(difficulty)
	r.MealType = model.MealType(mealType)
	r.DietaryTags = []string(dietaryTags)

	if servings.Valid {
		if d, err := decimal.NewFromString(servings.String); err == nil {
			r.Servings = &d
		}
	}

	if len(instructionsJSON) > 0 {
		if err := json.Unmarshal(instructionsJSON, &r.Instructions); err != nil {
			slog.Warn("corrupted instructions_json", "identifier", r.Identifier, "error", err)
		}
	}

	r.Ingredients, err = s.getIngredients(ctx, pk)
	if err != nil {
		return nil, 0, err
	}

	return r, pk, nil
}

// AllRecipes streams a page of recipes ordered by id, the shape
// internal/search.RecipeSource needs to page through the full table
// during sync_all.
func (s *Store) AllRecipes(ctx context.Context, offset, limit int) ([]*model.Recipe, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM recipes ORDER BY id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	var pks []int64
	for rows.Next() {
		var pk int64
		if err := rows.Scan(&pk); err != nil {
			rows.Close()
			return nil, err
		}
		pks = append(pks, pk)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*model.Recipe, 0, len(pks))
	for _, pk := range pks {
		r, err := s.GetByPrimaryKey(ctx, pk)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// UpdateEmbedding persists a freshly generated embedding for an
// already-loaded recipe, the narrow write embed_one performs.
func (s *Store) UpdateEmbedding(ctx context.Context, primaryKey int64, embedding []float32) error {
	_, err := s.db.ExecContext(ctx, `UPDATE recipes SET embedding = $1, updated_at = $2 WHERE id = $3`,
		float32SliceToVectorLiteral(embedding), time.Now().UTC(), primaryKey)
	return err
}

func (s *Store) getIngredients(ctx context.Context, recipePK int64) ([]model.RecipeIngredient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ing.name, COALESCE(m.name, ''), ri.amount, COALESCE(ri.notes, ''), ri.order_index
		FROM recipe_ingredients ri
		JOIN ingredients ing ON ing.id = ri.ingredient_id
		LEFT JOIN measurements m ON m.id = ri.measurement_id
		WHERE ri.recipe_id = $1
		ORDER BY ri.order_index
	`, recipePK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RecipeIngredient
	for rows.Next() {
		var ing model.RecipeIngredient
		var amount sql.NullString
		if err := rows.Scan(&ing.Item, &ing.Unit, &amount, &ing.Notes, &ing.OrderIndex); err != nil {
			return nil, err
		}
		ing.Amount = amount.String
		out = append(out, ing)
	}
	return out, rows.Err()
}

// Update replaces the persisted row for primaryKey with r's fields,
// re-running the junction rows (the repair pass may have changed
// ingredient order or text since the original load).
func (s *Store) Update(ctx context.Context, primaryKey int64, r *model.Recipe) error {
	if err := r.Validate(); err != nil {
		return err
	}

	return database.WithTransaction(ctx, s.db, func(tx *sql.Tx) error {
		instructionsJSON, err := json.Marshal(r.Instructions)
		if err != nil {
			return err
		}
		r.UpdatedAt = time.Now().UTC()

		var embedding interface{}
		if len(r.Embedding) > 0 {
			embedding = float32SliceToVectorLiteral(r.Embedding)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE recipes SET
				title = $1, description = $2, instructions_json = $3,
				prep_minutes = $4, cook_minutes = $5, total_minutes = $6, servings = $7,
				difficulty = $8, cuisine_type = $9, meal_type = $10, dietary_tags = $11,
				source_url = $12, source_post_id = $13, source_author = $14, source_score = $15, source_comments_count = $16,
				embedding = COALESCE($17, embedding), updated_at = $18
			WHERE id = $19
		`, r.Title, r.Description, instructionsJSON,
			r.PrepMinutes, r.CookMinutes, r.TotalMinutes, decimalValue(r.Servings),
			nullableString(string(r.Difficulty)), nullableString(r.CuisineType), nullableString(string(r.MealType)), TextArray(r.DietaryTags),
			nullableString(r.SourceURL), nullableString(r.SourcePostID), nullableString(r.SourceAuthor), r.SourceScore, r.SourceCommentsCount,
			embedding, r.UpdatedAt, primaryKey)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM recipe_ingredients WHERE recipe_id = $1`, primaryKey); err != nil {
			return err
		}
		return insertJunctionRowsTx(ctx, tx, primaryKey, r.Ingredients)
	})
}

// Stats reports counts and category breakdowns used by the CLI's `stats`
// subcommand.
type Stats struct {
	TotalRecipes      int64
	TotalWithEmbedding int64
	AverageIngredients float64
	ByMealType         map[string]int64
	ByDifficulty       map[string]int64
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByMealType: map[string]int64{}, ByDifficulty: map[string]int64{}}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE embedding IS NOT NULL)
		FROM recipes
	`).Scan(&stats.TotalRecipes, &stats.TotalWithEmbedding)
	if err != nil {
		return nil, err
	}

	if stats.TotalRecipes > 0 {
		var totalIngredients int64
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recipe_ingredients`).Scan(&totalIngredients); err != nil {
			return nil, err
		}
		stats.AverageIngredients = float64(totalIngredients) / float64(stats.TotalRecipes)
	}

	if err := scanCountsByColumn(ctx, s.db, "meal_type", stats.ByMealType); err != nil {
		return nil, err
	}
	if err := scanCountsByColumn(ctx, s.db, "difficulty", stats.ByDifficulty); err != nil {
		return nil, err
	}

	return stats, nil
}

func scanCountsByColumn(ctx context.Context, db *sql.DB, column string, into map[string]int64) error {
	rows, err := db.QueryContext(ctx, `SELECT COALESCE(`+column+`, 'unknown'), COUNT(*) FROM recipes GROUP BY `+column)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func decimalValue(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

// float32SliceToVectorLiteral formats an embedding as a pgvector literal
// ("[0.1,0.2,...]"); the embedding column is declared vector(384).
func float32SliceToVectorLiteral(embedding []float32) string {
	b := make([]byte, 0, len(embedding)*8)
	b = append(b, '[')
	for i, v := range embedding {
		if i > 0 {
			b = append(b, ',')
		}
		b = appendFloat32(b, v)
	}
	b = append(b, ']')
	return string(b)
}

func appendFloat32(b []byte, v float32) []byte {
	return append(b, []byte(formatFloat32(v))...)
}

func formatFloat32(v float32) string {
	return decimal.NewFromFloat32(v).String()
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505), surfaced via the pgx driver's error wrapping.
func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
