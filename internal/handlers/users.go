package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/quill-blog/apiserver/internal/apperror"
	"github.com/quill-blog/apiserver/internal/services"
)

const formFieldAvatar = "avatar"

// UserHandler serves account and profile endpoints.
type UserHandler struct {
	accounts *services.AccountService
}

func NewUserHandler(accounts *services.AccountService) *UserHandler {
	return &UserHandler{accounts: accounts}
}

// UserRouter registers user routes on the given router.
func UserRouter(r chi.Router, accounts *services.AccountService, authMiddleware func(http.Handler) http.Handler) {
	handler := NewUserHandler(accounts)

	r.Post("/register", handler.Register)
	r.Post("/login", handler.Login)
	r.Post("/verify", handler.RequestVerification)
	r.Patch("/verified/{token}", handler.ConfirmVerification)
	r.Post("/forgotPassword", handler.ForgotPassword)
	r.Patch("/resetPassword/{token}", handler.ResetPassword)
	r.Get("/", handler.ListAuthors)
	r.Get("/{userID}", handler.GetUser)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/change-avatar", handler.ChangeAvatar)
		r.Patch("/edit-user", handler.EditUser)
	})
}

type RegisterRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type EmailRequest struct {
	Email string `json:"email"`
}

type ResetPasswordRequest struct {
	Password  string `json:"password"`
	Password2 string `json:"password2"`
}

type EditUserRequest struct {
	Name               string `json:"name"`
	Email              string `json:"email"`
	CurrentPassword    string `json:"currentPassword"`
	NewPassword        string `json:"newPassword"`
	ConfirmNewPassword string `json:"confirmNewPassword"`
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ack, err := h.accounts.Register(r.Context(), services.RegisterInput{
		Name:                 req.Name,
		Email:                req.Email,
		Password:             req.Password,
		PasswordConfirmation: req.Password2,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ack)
}

func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.accounts.Login(r.Context(), services.LoginInput{Email: req.Email, Password: req.Password})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *UserHandler) RequestVerification(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ack, err := h.accounts.RequestEmailVerification(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *UserHandler) ConfirmVerification(w http.ResponseWriter, r *http.Request) {
	user, err := h.accounts.ConfirmEmailVerification(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req EmailRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	ack, err := h.accounts.RequestPasswordReset(r.Context(), req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.ConfirmPasswordReset(r.Context(), services.ResetPasswordInput{
		Token:                chi.URLParam(r, "token"),
		Password:             req.Password,
		PasswordConfirmation: req.Password2,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	id, ok := urlID(r, "userID")
	if !ok {
		writeError(w, apperror.NotFound("User not found."))
		return
	}

	user, err := h.accounts.GetProfile(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) ListAuthors(w http.ResponseWriter, r *http.Request) {
	users, err := h.accounts.ListAuthors(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *UserHandler) ChangeAvatar(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	if err := parseForm(w, r); err != nil {
		writeError(w, err)
		return
	}
	image, err := formFile(r, formFieldAvatar)
	if err != nil {
		writeError(w, apperror.Validation("Please choose an image.").Wrap(err))
		return
	}

	user, err := h.accounts.ChangeAvatar(r.Context(), userID, image)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *UserHandler) EditUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := callerID(w, r)
	if !ok {
		return
	}
	var req EditUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.EditProfile(r.Context(), userID, services.EditProfileInput{
		Name:                    req.Name,
		Email:                   req.Email,
		CurrentPassword:         req.CurrentPassword,
		NewPassword:             req.NewPassword,
		NewPasswordConfirmation: req.ConfirmNewPassword,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}
