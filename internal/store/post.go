package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/quill-blog/apiserver/types"
)

const postColumns = `id, title, category, description, thumbnail_url, creator_id, created_at, updated_at`

// PostRepository handles persistence for posts.
type PostRepository struct {
	db *sql.DB
}

func NewPostRepository(db *sql.DB) *PostRepository {
	return &PostRepository{db: db}
}

func scanPost(row rowScanner) (types.Post, error) {
	var post types.Post
	err := row.Scan(
		&post.ID,
		&post.Title,
		&post.Category,
		&post.Description,
		&post.ThumbnailURL,
		&post.CreatorID,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	return post, err
}

func (r *PostRepository) queryPosts(ctx context.Context, query string, args ...any) ([]types.Post, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := make([]types.Post, 0)
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return posts, nil
}

// List returns every post, most recently updated first.
func (r *PostRepository) List(ctx context.Context) ([]types.Post, error) {
	const query = `SELECT ` + postColumns + ` FROM posts ORDER BY updated_at DESC, id DESC`
	return r.queryPosts(ctx, query)
}

// ListByCategory returns the category's posts, newest first.
func (r *PostRepository) ListByCategory(ctx context.Context, category types.Category) ([]types.Post, error) {
	const query = `SELECT ` + postColumns + ` FROM posts WHERE category = $1 ORDER BY created_at DESC, id DESC`
	return r.queryPosts(ctx, query, string(category))
}

// ListByCreator returns the user's posts, newest first.
func (r *PostRepository) ListByCreator(ctx context.Context, creatorID int) ([]types.Post, error) {
	const query = `SELECT ` + postColumns + ` FROM posts WHERE creator_id = $1 ORDER BY created_at DESC, id DESC`
	return r.queryPosts(ctx, query, creatorID)
}

func (r *PostRepository) Get(ctx context.Context, id int) (types.Post, error) {
	const query = `SELECT ` + postColumns + ` FROM posts WHERE id = $1`
	post, err := scanPost(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Post{}, ErrNotFound
		}
		return types.Post{}, err
	}
	return post, nil
}

func (r *PostRepository) Create(ctx context.Context, post types.Post) (types.Post, error) {
	now := time.Now()
	post.CreatedAt = now
	post.UpdatedAt = now

	const query = `
		INSERT INTO posts (title, category, description, thumbnail_url, creator_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		post.Title,
		string(post.Category),
		post.Description,
		post.ThumbnailURL,
		post.CreatorID,
		post.CreatedAt,
		post.UpdatedAt,
	).Scan(&post.ID); err != nil {
		return types.Post{}, err
	}
	return post, nil
}

// Update rewrites the editable columns. creator_id is never written.
func (r *PostRepository) Update(ctx context.Context, post types.Post) (types.Post, error) {
	post.UpdatedAt = time.Now()

	const query = `
		UPDATE posts
		SET title = $1,
			category = $2,
			description = $3,
			thumbnail_url = $4,
			updated_at = $5
		WHERE id = $6
		RETURNING creator_id, created_at`
	err := r.db.QueryRowContext(
		ctx,
		query,
		post.Title,
		string(post.Category),
		post.Description,
		post.ThumbnailURL,
		post.UpdatedAt,
		post.ID,
	).Scan(&post.CreatorID, &post.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Post{}, ErrNotFound
		}
		return types.Post{}, err
	}
	return post, nil
}

func (r *PostRepository) Delete(ctx context.Context, id int) error {
	const query = `DELETE FROM posts WHERE id = $1`
	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByCreators returns the live number of posts per creator. Creators
// without posts are absent from the map.
func (r *PostRepository) CountByCreators(ctx context.Context) (map[int]int, error) {
	const query = `SELECT creator_id, COUNT(1) FROM posts GROUP BY creator_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[int]int)
	for rows.Next() {
		var creatorID, count int
		if err := rows.Scan(&creatorID, &count); err != nil {
			return nil, err
		}
		counts[creatorID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}
