package handlers

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/quill-blog/apiserver/config"
	"github.com/quill-blog/apiserver/internal/services"
	"github.com/quill-blog/apiserver/internal/testutil"
	"github.com/quill-blog/apiserver/internal/tokens"
	"github.com/quill-blog/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type apiFixture struct {
	router *chi.Mux
	users  *testutil.UserStore
	posts  *testutil.PostStore
	media  *testutil.MediaHost
	mail   *testutil.Mailer
	tokens *tokens.Service
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		users: testutil.NewUserStore(),
		posts: testutil.NewPostStore(),
		media: &testutil.MediaHost{},
		mail:  &testutil.Mailer{},
	}
	tokenService, err := tokens.NewService(config.TokenConfig{
		Secret:     "handler-secret",
		SessionTTL: time.Hour,
		ActionTTL:  10 * time.Minute,
	})
	require.NoError(t, err)
	f.tokens = tokenService

	logger := testutil.DiscardLogger()
	accounts := services.NewAccountService(f.users, f.media, tokenService, f.mail, logger)
	posts := services.NewPostService(f.posts, f.users, f.media, logger)
	auth := RequireAuth(tokenService)

	router := chi.NewRouter()
	router.NotFound(NotFound)
	router.MethodNotAllowed(MethodNotAllowed)
	router.Route("/users", func(r chi.Router) {
		UserRouter(r, accounts, auth)
	})
	router.Route("/posts", func(r chi.Router) {
		PostRouter(r, posts, auth)
	})
	f.router = router
	return f
}

func (f *apiFixture) seedUser(t *testing.T, name, email, password string) types.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return f.users.Put(types.User{Name: name, Email: email, PasswordHash: string(hash), Verified: true})
}

func (f *apiFixture) sessionFor(t *testing.T, user types.User) string {
	t.Helper()
	token, _, err := f.tokens.IssueSession(user.ID, user.Name)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func multipartRequest(t *testing.T, method, target string, fields map[string]string, fileField string, file []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	if fileField != "" {
		part, err := writer.CreateFormFile(fileField, "image.jpg")
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func itoa(id int) string {
	return strconv.Itoa(id)
}

func withBearer(req *http.Request, token string) *http.Request {
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&value), rec.Body.String())
	return value
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[ErrorResponse](t, rec).Message
}

func TestRegisterAndLogin(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(jsonRequest(t, http.MethodPost, "/users/register", RegisterRequest{
		Name:      "Ada",
		Email:     "Ada@Example.com",
		Password:  "secret1",
		Password2: "secret1",
	}))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "new user ada@example.com registered", decodeBody[string](t, rec))

	rec = f.do(jsonRequest(t, http.MethodPost, "/users/login", LoginRequest{Email: "ada@example.com", Password: "secret1"}))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Please verify your email.", errorMessage(t, rec))

	f.do(jsonRequest(t, http.MethodPost, "/users/verify", EmailRequest{Email: "ada@example.com"}))
	sent, ok := f.mail.Last()
	require.True(t, ok)

	rec = f.do(httptest.NewRequest(http.MethodPatch, "/users/verified/"+sent.Token, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeBody[types.User](t, rec).Verified)

	rec = f.do(jsonRequest(t, http.MethodPost, "/users/login", LoginRequest{Email: "ADA@example.com", Password: "secret1"}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	session := decodeBody[types.Session](t, rec)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "Ada", session.Name)
}

func TestRegister_EmptyBodyReportsMissingFields(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/users/register", nil)
	rec := f.do(req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Fill in all fields.", errorMessage(t, rec))
}

func TestRegister_MalformedJSON(t *testing.T) {
	f := newAPIFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/users/register", strings.NewReader("{"))
	rec := f.do(req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestGate(t *testing.T) {
	f := newAPIFixture(t)

	tests := []struct {
		name    string
		header  string
		status  int
		message string
	}{
		{name: "missing header", status: http.StatusUnauthorized, message: "Unauthorized. No token"},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized, message: "Unauthorized. No token"},
		{name: "garbage token", header: "Bearer not-a-token", status: http.StatusForbidden, message: "Unauthorized. Invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := jsonRequest(t, http.MethodPatch, "/users/edit-user", EditUserRequest{})
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := f.do(req)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.message, errorMessage(t, rec))
		})
	}
}

func TestGate_RejectsExpiredSession(t *testing.T) {
	f := newAPIFixture(t)
	user := f.seedUser(t, "Ada", "ada@example.com", "secret1")
	past := time.Now().Add(-2 * time.Hour)
	stale, err := tokens.NewService(
		config.TokenConfig{Secret: "handler-secret", SessionTTL: time.Hour, ActionTTL: time.Minute},
		tokens.WithClock(func() time.Time { return past }),
	)
	require.NoError(t, err)
	token, _, err := stale.IssueSession(user.ID, user.Name)
	require.NoError(t, err)

	rec := f.do(withBearer(jsonRequest(t, http.MethodPatch, "/users/edit-user", EditUserRequest{}), token))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGate_RejectsActionToken(t *testing.T) {
	f := newAPIFixture(t)
	user := f.seedUser(t, "Ada", "ada@example.com", "secret1")

	for _, purpose := range []tokens.Purpose{tokens.PurposeVerifyEmail, tokens.PurposeResetPassword} {
		token, err := f.tokens.IssueAction(user.ID, purpose)
		require.NoError(t, err)

		rec := f.do(withBearer(jsonRequest(t, http.MethodPatch, "/users/edit-user", EditUserRequest{Name: "Mallory"}), token))

		assert.Equal(t, http.StatusForbidden, rec.Code, purpose)
		assert.Equal(t, "Unauthorized. Invalid token", errorMessage(t, rec))
	}
	stored, err := f.users.GetByID(t.Context(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", stored.Name)
}

func TestIdentityFromContext(t *testing.T) {
	f := newAPIFixture(t)
	user := f.seedUser(t, "Ada", "ada@example.com", "secret1")

	var got Identity
	handler := RequireAuth(f.tokens)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = IdentityFromContext(r.Context())
	}))
	req := withBearer(httptest.NewRequest(http.MethodGet, "/", nil), f.sessionFor(t, user))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, Identity{ID: user.ID, Name: "Ada"}, got)

	_, ok := IdentityFromContext(req.Context())
	assert.False(t, ok)
}

func TestGetUser(t *testing.T) {
	f := newAPIFixture(t)
	user := f.seedUser(t, "Ada", "ada@example.com", "secret1")

	rec := f.do(httptest.NewRequest(http.MethodGet, "/users/"+itoa(user.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.Equal(t, "ada@example.com", decodeBody[types.User](t, rec).Email)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/users/abc", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/users/999", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAuthors(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "Ada", "ada@example.com", "secret1")
	f.seedUser(t, "Grace", "grace@example.com", "secret1")

	rec := f.do(httptest.NewRequest(http.MethodGet, "/users/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]types.User](t, rec), 2)
}

func TestChangeAvatar(t *testing.T) {
	f := newAPIFixture(t)
	user := f.seedUser(t, "Ada", "ada@example.com", "secret1")
	token := f.sessionFor(t, user)

	rec := f.do(withBearer(multipartRequest(t, http.MethodPost, "/users/change-avatar", nil, "avatar", []byte("jpeg")), token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "https://media.test/quill/1.jpg", decodeBody[types.User](t, rec).AvatarURL)

	rec = f.do(withBearer(multipartRequest(t, http.MethodPost, "/users/change-avatar", nil, "", nil), token))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestEditUser(t *testing.T) {
	f := newAPIFixture(t)
	user := f.seedUser(t, "Ada", "ada@example.com", "secret1")

	rec := f.do(withBearer(jsonRequest(t, http.MethodPatch, "/users/edit-user", EditUserRequest{
		Name:               "Ada L",
		Email:              "ada.l@example.com",
		CurrentPassword:    "secret1",
		NewPassword:        "secret2",
		ConfirmNewPassword: "secret2",
	}), f.sessionFor(t, user)))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decodeBody[types.User](t, rec)
	assert.Equal(t, "Ada L", updated.Name)
	assert.Equal(t, "ada.l@example.com", updated.Email)
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newAPIFixture(t)
	f.seedUser(t, "Ada", "ada@example.com", "secret1")

	rec := f.do(jsonRequest(t, http.MethodPost, "/users/forgotPassword", EmailRequest{Email: "ada@example.com"}))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Mail sent", decodeBody[string](t, rec))

	sent, ok := f.mail.Last()
	require.True(t, ok)
	assert.Equal(t, "reset", sent.Kind)

	rec = f.do(jsonRequest(t, http.MethodPatch, "/users/resetPassword/"+sent.Token, ResetPasswordRequest{
		Password:  "newpass1",
		Password2: "newpass1",
	}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(jsonRequest(t, http.MethodPost, "/users/login", LoginRequest{Email: "ada@example.com", Password: "newpass1"}))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(jsonRequest(t, http.MethodPatch, "/users/resetPassword/bogus", ResetPasswordRequest{
		Password:  "newpass1",
		Password2: "newpass1",
	}))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(jsonRequest(t, http.MethodPost, "/users/forgotPassword", EmailRequest{Email: "nobody@example.com"}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func postFields(title string) map[string]string {
	return map[string]string{
		"title":       title,
		"category":    "Food",
		"description": "A description long enough to pass.",
	}
}

func TestPostLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	author := f.seedUser(t, "Ada", "ada@example.com", "secret1")
	token := f.sessionFor(t, author)

	rec := f.do(withBearer(multipartRequest(t, http.MethodPost, "/posts/", postFields("Soup"), "thumbnail", []byte("jpeg")), token))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody[types.Post](t, rec)
	assert.Equal(t, author.ID, created.CreatorID)
	assert.Equal(t, types.CategoryFood, created.Category)

	stored, err := f.users.GetByID(t.Context(), author.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.PostCount)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/posts/"+itoa(created.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/posts/categories/Food", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]types.Post](t, rec), 1)

	rec = f.do(httptest.NewRequest(http.MethodGet, "/posts/users/"+itoa(author.ID), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]types.Post](t, rec), 1)

	edit := multipartRequest(t, http.MethodPatch, "/posts/"+itoa(created.ID), postFields("Stew"), "", nil)
	rec = f.do(withBearer(edit, token))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	edited := decodeBody[types.Post](t, rec)
	assert.Equal(t, "Stew", edited.Title)
	assert.Equal(t, created.ThumbnailURL, edited.ThumbnailURL)

	rec = f.do(withBearer(httptest.NewRequest(http.MethodDelete, "/posts/"+itoa(created.ID), nil), token))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Post "+itoa(created.ID)+" deleted", decodeBody[string](t, rec))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/posts/"+itoa(created.ID), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	stored, err = f.users.GetByID(t.Context(), author.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.PostCount)
}

func TestEditPost_URLEncodedBody(t *testing.T) {
	f := newAPIFixture(t)
	author := f.seedUser(t, "Ada", "ada@example.com", "secret1")
	token := f.sessionFor(t, author)

	rec := f.do(withBearer(multipartRequest(t, http.MethodPost, "/posts/", postFields("Soup"), "thumbnail", []byte("jpeg")), token))
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[types.Post](t, rec)

	form := "title=Stew&category=Sports&description=" + strings.Repeat("x", 20)
	req := httptest.NewRequest(http.MethodPatch, "/posts/"+itoa(created.ID), strings.NewReader(form))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = f.do(withBearer(req, token))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, types.CategorySports, decodeBody[types.Post](t, rec).Category)
}

func TestCreatePost_Rejections(t *testing.T) {
	f := newAPIFixture(t)
	author := f.seedUser(t, "Ada", "ada@example.com", "secret1")
	token := f.sessionFor(t, author)

	rec := f.do(withBearer(multipartRequest(t, http.MethodPost, "/posts/", postFields("Soup"), "", nil), token))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Fill in all fields and choose a thumbnail.", errorMessage(t, rec))

	big := bytes.Repeat([]byte{0xff}, 2_000_001)
	rec = f.do(withBearer(multipartRequest(t, http.MethodPost, "/posts/", postFields("Soup"), "thumbnail", big), token))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Thumbnail too big. File should be less than 2MB.", errorMessage(t, rec))

	uploads, _ := f.media.Calls()
	assert.Zero(t, uploads)

	rec = f.do(multipartRequest(t, http.MethodPost, "/posts/", postFields("Soup"), "thumbnail", []byte("jpeg")))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestDeletePost_ForeignPost(t *testing.T) {
	f := newAPIFixture(t)
	author := f.seedUser(t, "Ada", "ada@example.com", "secret1")
	intruder := f.seedUser(t, "Eve", "eve@example.com", "secret1")

	rec := f.do(withBearer(multipartRequest(t, http.MethodPost, "/posts/", postFields("Soup"), "thumbnail", []byte("jpeg")), f.sessionFor(t, author)))
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeBody[types.Post](t, rec)

	rec = f.do(withBearer(httptest.NewRequest(http.MethodDelete, "/posts/"+itoa(created.ID), nil), f.sessionFor(t, intruder)))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(withBearer(httptest.NewRequest(http.MethodDelete, "/posts/nope", nil), f.sessionFor(t, intruder)))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListPosts_UnknownCategoryIsEmpty(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/posts/categories/Gardening", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeBody[[]types.Post](t, rec))
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Not Found - /nowhere", errorMessage(t, rec))

	rec = f.do(httptest.NewRequest(http.MethodPut, "/posts/1", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
