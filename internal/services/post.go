package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quill-blog/apiserver/internal/apperror"
	"github.com/quill-blog/apiserver/internal/store"
	"github.com/quill-blog/apiserver/types"
)

const (
	maxThumbnailBytes     = 2_000_000
	maxEditThumbnailBytes = 3_000_000
	minDescriptionLength  = 12
)

const (
	msgPostFieldsRequired = "Fill in all fields and choose a thumbnail."
	msgInvalidCategory    = "Choose a valid category."
	msgThumbnailTooBig    = "Thumbnail too big. File should be less than 2MB."
	msgEditThumbnailBig   = "Thumbnail too big. Should be less than 3MB."
	msgPostNotFound       = "Post not found"
	msgPostUnavailable    = "Post unavailable"
	msgCannotUpdatePost   = "Couldn't update post."
	msgCannotDeletePost   = "Post couldn't be deleted"
)

// PostRepository defines persistence operations for posts.
type PostRepository interface {
	List(ctx context.Context) ([]types.Post, error)
	ListByCategory(ctx context.Context, category types.Category) ([]types.Post, error)
	ListByCreator(ctx context.Context, creatorID int) ([]types.Post, error)
	Get(ctx context.Context, id int) (types.Post, error)
	Create(ctx context.Context, post types.Post) (types.Post, error)
	Update(ctx context.Context, post types.Post) (types.Post, error)
	Delete(ctx context.Context, id int) error
}

// PostCountAdjuster moves a user's cached post count.
type PostCountAdjuster interface {
	AdjustPostCount(ctx context.Context, id int, delta int) error
}

type CreatePostInput struct {
	Title       string
	Category    string
	Description string
	Image       []byte
}

// EditPostInput carries the replacement fields. A nil Image keeps the
// current thumbnail.
type EditPostInput struct {
	Title       string
	Category    string
	Description string
	Image       []byte
}

// PostService encapsulates post use-cases.
type PostService struct {
	posts   PostRepository
	counter PostCountAdjuster
	media   MediaHost
	logger  *slog.Logger
}

// NewPostService builds a PostService. A nil counter leaves post counts to
// be derived on read.
func NewPostService(posts PostRepository, counter PostCountAdjuster, media MediaHost, logger *slog.Logger) *PostService {
	return &PostService{
		posts:   posts,
		counter: counter,
		media:   media,
		logger:  logger,
	}
}

func (s *PostService) Create(ctx context.Context, userID int, in CreatePostInput) (types.Post, error) {
	if isBlank(in.Title) || isBlank(in.Category) || isBlank(in.Description) || len(in.Image) == 0 {
		return types.Post{}, apperror.Validation(msgPostFieldsRequired)
	}
	category := types.Category(strings.TrimSpace(in.Category))
	if !category.Valid() {
		return types.Post{}, apperror.Validation(msgInvalidCategory)
	}
	if len(in.Image) > maxThumbnailBytes {
		return types.Post{}, apperror.PayloadTooLarge(msgThumbnailTooBig)
	}

	url, err := s.media.Upload(ctx, in.Image)
	if err != nil {
		return types.Post{}, s.internal(ctx, "upload thumbnail", err)
	}

	post, err := s.posts.Create(ctx, types.Post{
		Title:        strings.TrimSpace(in.Title),
		Category:     category,
		Description:  in.Description,
		ThumbnailURL: url,
		CreatorID:    userID,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "thumbnail orphaned", "url", url)
		return types.Post{}, s.internal(ctx, "create post", err)
	}

	s.adjustCount(ctx, userID, 1)
	return post, nil
}

// Edit rewrites a post owned by callerID.
func (s *PostService) Edit(ctx context.Context, postID, callerID int, in EditPostInput) (types.Post, error) {
	if isBlank(in.Title) || isBlank(in.Category) || len(strings.TrimSpace(in.Description)) < minDescriptionLength {
		return types.Post{}, apperror.Validation(msgFillAllFields)
	}
	category := types.Category(strings.TrimSpace(in.Category))
	if !category.Valid() {
		return types.Post{}, apperror.Validation(msgInvalidCategory)
	}

	post, err := s.load(ctx, postID)
	if err != nil {
		return types.Post{}, err
	}
	if post.CreatorID != callerID {
		return types.Post{}, apperror.Forbidden(msgCannotUpdatePost)
	}

	if len(in.Image) > 0 {
		if len(in.Image) > maxEditThumbnailBytes {
			return types.Post{}, apperror.PayloadTooLarge(msgEditThumbnailBig)
		}
		if err := s.media.Delete(ctx, post.ThumbnailURL); err != nil {
			s.logger.WarnContext(ctx, "old thumbnail not deleted", "post_id", post.ID, "url", post.ThumbnailURL, "error", err)
		}
		url, err := s.media.Upload(ctx, in.Image)
		if err != nil {
			return types.Post{}, s.internal(ctx, "upload thumbnail", err)
		}
		post.ThumbnailURL = url
	}

	post.Title = strings.TrimSpace(in.Title)
	post.Category = category
	post.Description = in.Description

	updated, err := s.posts.Update(ctx, post)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Post{}, apperror.NotFound(msgPostNotFound)
		}
		return types.Post{}, s.internal(ctx, "update post", err)
	}
	return updated, nil
}

// Delete removes a post owned by callerID along with its thumbnail and
// returns an acknowledgment.
func (s *PostService) Delete(ctx context.Context, postID, callerID int) (string, error) {
	if postID < 1 {
		return "", apperror.NotFound(msgPostUnavailable)
	}

	post, err := s.load(ctx, postID)
	if err != nil {
		return "", err
	}
	if post.CreatorID != callerID {
		return "", apperror.Forbidden(msgCannotDeletePost)
	}

	if err := s.media.Delete(ctx, post.ThumbnailURL); err != nil {
		s.logger.WarnContext(ctx, "thumbnail not deleted", "post_id", post.ID, "url", post.ThumbnailURL, "error", err)
	}
	if err := s.posts.Delete(ctx, post.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", apperror.NotFound(msgPostNotFound)
		}
		return "", s.internal(ctx, "delete post", err)
	}

	s.adjustCount(ctx, post.CreatorID, -1)
	return fmt.Sprintf("Post %d deleted", post.ID), nil
}

func (s *PostService) List(ctx context.Context) ([]types.Post, error) {
	posts, err := s.posts.List(ctx)
	if err != nil {
		return nil, s.internal(ctx, "list posts", err)
	}
	return posts, nil
}

func (s *PostService) Get(ctx context.Context, id int) (types.Post, error) {
	return s.load(ctx, id)
}

// ListByCategory returns the category's posts. An unknown category has no
// posts.
func (s *PostService) ListByCategory(ctx context.Context, category string) ([]types.Post, error) {
	c := types.Category(category)
	if !c.Valid() {
		return []types.Post{}, nil
	}
	posts, err := s.posts.ListByCategory(ctx, c)
	if err != nil {
		return nil, s.internal(ctx, "list posts by category", err)
	}
	return posts, nil
}

func (s *PostService) ListByCreator(ctx context.Context, userID int) ([]types.Post, error) {
	posts, err := s.posts.ListByCreator(ctx, userID)
	if err != nil {
		return nil, s.internal(ctx, "list posts by creator", err)
	}
	return posts, nil
}

func (s *PostService) load(ctx context.Context, id int) (types.Post, error) {
	post, err := s.posts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.Post{}, apperror.NotFound(msgPostNotFound)
		}
		return types.Post{}, s.internal(ctx, "load post", err)
	}
	return post, nil
}

// adjustCount is best-effort: the post write already happened and is not
// rolled back.
func (s *PostService) adjustCount(ctx context.Context, userID, delta int) {
	if s.counter == nil {
		return
	}
	if err := s.counter.AdjustPostCount(ctx, userID, delta); err != nil {
		s.logger.WarnContext(ctx, "post count not adjusted", "user_id", userID, "delta", delta, "error", err)
	}
}

func (s *PostService) internal(ctx context.Context, op string, err error) error {
	s.logger.ErrorContext(ctx, "post operation failed", "op", op, "error", err)
	return apperror.Internal(msgUnknownError, err)
}
