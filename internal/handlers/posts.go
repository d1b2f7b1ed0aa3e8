package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/quill-blog/apiserver/internal/apperror"
	"github.com/quill-blog/apiserver/internal/services"
)

const (
	formFieldTitle     = "title"
	formFieldCategory  = "category"
	formFieldDesc      = "description"
	formFieldThumbnail = "thumbnail"
)

// PostHandler serves post endpoints.
type PostHandler struct {
	posts *services.PostService
}

func NewPostHandler(posts *services.PostService) *PostHandler {
	return &PostHandler{posts: posts}
}

// PostRouter registers post routes on the given router.
func PostRouter(r chi.Router, posts *services.PostService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewPostHandler(posts)

	r.Get("/", handler.ListPosts)
	r.Get("/categories/{category}", handler.ListByCategory)
	r.Get("/users/{userID}", handler.ListByCreator)
	r.Get("/{postID}", handler.GetPost)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/", handler.CreatePost)
		r.Patch("/{postID}", handler.EditPost)
		r.Delete("/{postID}", handler.DeletePost)
	})
}

type postForm struct {
	Title       string
	Category    string
	Description string
	Thumbnail   []byte
}

func readPostForm(w http.ResponseWriter, r *http.Request) (postForm, error) {
	if err := parseForm(w, r); err != nil {
		return postForm{}, err
	}
	thumbnail, err := formFile(r, formFieldThumbnail)
	if err != nil {
		return postForm{}, apperror.Validation("Fill in all fields and choose a thumbnail.").Wrap(err)
	}
	return postForm{
		Title:       r.FormValue(formFieldTitle),
		Category:    r.FormValue(formFieldCategory),
		Description: r.FormValue(formFieldDesc),
		Thumbnail:   thumbnail,
	}, nil
}

func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	form, err := readPostForm(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	post, err := h.posts.Create(r.Context(), userID, services.CreatePostInput{
		Title:       form.Title,
		Category:    form.Category,
		Description: form.Description,
		Image:       form.Thumbnail,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.posts.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *PostHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "postID")
	if !ok {
		writeError(w, apperror.NotFound("Post not found"))
		return
	}

	post, err := h.posts.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *PostHandler) ListByCategory(w http.ResponseWriter, r *http.Request) {
	posts, err := h.posts.ListByCategory(r.Context(), chi.URLParam(r, "category"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *PostHandler) ListByCreator(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "userID")
	if !ok {
		writeJSON(w, http.StatusOK, []any{})
		return
	}

	posts, err := h.posts.ListByCreator(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, posts)
}

func (h *PostHandler) EditPost(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := urlID(r, "postID")
	if !ok {
		writeError(w, apperror.NotFound("Post not found"))
		return
	}
	form, err := readPostForm(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	post, err := h.posts.Edit(r.Context(), id, userID, services.EditPostInput{
		Title:       form.Title,
		Category:    form.Category,
		Description: form.Description,
		Image:       form.Thumbnail,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func (h *PostHandler) DeletePost(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	id, ok := urlID(r, "postID")
	if !ok {
		writeError(w, apperror.NotFound("Post not found"))
		return
	}

	ack, err := h.posts.Delete(r.Context(), id, userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}
