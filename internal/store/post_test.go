package store

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/quill-blog/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var postRowColumns = []string{"id", "title", "category", "description", "thumbnail_url", "creator_id", "created_at", "updated_at"}

func TestPostRepository_List_OrdersByUpdatedAt(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostRepository(db)
	now := time.Now()

	mock.ExpectQuery(`(?s)SELECT .* FROM posts ORDER BY updated_at DESC`).
		WillReturnRows(sqlmock.NewRows(postRowColumns).
			AddRow(2, "Second", "Food", "tasty things", "https://cdn/2.jpg", 1, now, now).
			AddRow(1, "First", "Sports", "fast things", "https://cdn/1.jpg", 1, now, now))

	posts, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, types.CategoryFood, posts[0].Category)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepository_ListByCategory_OrdersByCreatedAt(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostRepository(db)

	mock.ExpectQuery(`(?s)FROM posts WHERE category = \$1 ORDER BY created_at DESC`).
		WithArgs("Weather").
		WillReturnRows(sqlmock.NewRows(postRowColumns))

	posts, err := repo.ListByCategory(context.Background(), types.CategoryWeather)
	require.NoError(t, err)
	assert.NotNil(t, posts)
	assert.Empty(t, posts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepository_ListByCreator(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostRepository(db)
	now := time.Now()

	mock.ExpectQuery(`(?s)FROM posts WHERE creator_id = \$1 ORDER BY created_at DESC`).
		WithArgs(4).
		WillReturnRows(sqlmock.NewRows(postRowColumns).
			AddRow(8, "Mine", "Business", "quarterly numbers", "https://cdn/8.jpg", 4, now, now))

	posts, err := repo.ListByCreator(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, 4, posts[0].CreatorID)
}

func TestPostRepository_Get_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostRepository(db)

	mock.ExpectQuery(`(?s)FROM posts WHERE id = \$1`).
		WithArgs(12).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), 12)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostRepository_Create(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostRepository(db)

	mock.ExpectQuery(`(?s)INSERT INTO posts .* RETURNING id`).
		WithArgs("Title", "Education", "a long description", "https://cdn/x.jpg", 3, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(21))

	post, err := repo.Create(context.Background(), types.Post{
		Title:        "Title",
		Category:     types.CategoryEducation,
		Description:  "a long description",
		ThumbnailURL: "https://cdn/x.jpg",
		CreatorID:    3,
	})
	require.NoError(t, err)
	assert.Equal(t, 21, post.ID)
	assert.Equal(t, post.CreatedAt, post.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepository_Update_ReturnsStoredCreator(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostRepository(db)
	created := time.Now().Add(-time.Hour)

	mock.ExpectQuery(`(?s)UPDATE posts .* WHERE id = \$6 RETURNING creator_id, created_at`).
		WithArgs("New", "Food", "a new description", "https://cdn/y.jpg", sqlmock.AnyArg(), 21).
		WillReturnRows(sqlmock.NewRows([]string{"creator_id", "created_at"}).AddRow(3, created))

	post, err := repo.Update(context.Background(), types.Post{
		ID:           21,
		Title:        "New",
		Category:     types.CategoryFood,
		Description:  "a new description",
		ThumbnailURL: "https://cdn/y.jpg",
		CreatorID:    999,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, post.CreatorID)
	assert.True(t, post.CreatedAt.Equal(created))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepository_Delete(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostRepository(db)

	mock.ExpectExec(`DELETE FROM posts WHERE id = \$1`).
		WithArgs(21).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM posts WHERE id = \$1`).
		WithArgs(22).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), 21))
	assert.ErrorIs(t, repo.Delete(context.Background(), 22), ErrNotFound)
}

func TestPostRepository_CountByCreators(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPostRepository(db)

	mock.ExpectQuery(`SELECT creator_id, COUNT\(1\) FROM posts GROUP BY creator_id`).
		WillReturnRows(sqlmock.NewRows([]string{"creator_id", "count"}).
			AddRow(1, 3).
			AddRow(4, 1))

	counts, err := repo.CountByCreators(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[int]int{1: 3, 4: 1}, counts)
}
