package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"runtime/debug"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/honeynil/AuthServiceTochka/internal/infrastructure/auth"
	"github.com/honeynil/AuthServiceTochka/internal/models"
	service "github.com/honeynil/AuthServiceTochka/internal/services"
	pkgerrors "github.com/honeynil/AuthServiceTochka/pkg/errors"
	"github.com/honeynil/AuthServiceTochka/pkg/response"
	"go.opentelemetry.io/otel/trace"
)

const internalErrorMessage = "internal server error"

type Handler struct {
	service     service.AuthService
	development bool
}

// NewHandler builds the auth endpoints. In development mode 500 responses
// carry the underlying error and a stack trace.
func NewHandler(s service.AuthService, development bool) *Handler {
	return &Handler{service: s, development: development}
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/register", h.Register).Methods(http.MethodPost)
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/refresh", h.Refresh).Methods(http.MethodPost)
	r.HandleFunc("/logout", h.Logout).Methods(http.MethodPost)
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/profile", h.Profile).Methods(http.MethodGet)
}

func (h *Handler) RegisterAdminRoutes(r *mux.Router) {
	r.HandleFunc("/users/{id}", h.UserByID).Methods(http.MethodGet)
}

type userTokens struct {
	User   models.PublicUser `json:"user"`
	Tokens models.TokenPair  `json:"tokens"`
}

type userOnly struct {
	User models.PublicUser `json:"user"`
}

type refreshed struct {
	AccessToken string            `json:"accessToken"`
	User        models.PublicUser `json:"user"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email     string `json:"email"`
		Password  string `json:"password"`
		FirstName string `json:"firstName"`
		LastName  string `json:"lastName"`
		FullName  string `json:"fullName"`
		Phone     string `json:"phone"`
	}
	decodeBody(r, &req)

	res, err := h.service.Register(r.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FullName:  req.FullName,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	})
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrInvalidInput):
			response.Error(w, http.StatusBadRequest, "email and password are required")
		case errors.Is(err, pkgerrors.ErrUserAlreadyExists):
			response.Error(w, http.StatusConflict, "user already exists")
		default:
			h.internalError(w, r, err)
		}
		return
	}

	response.Success(w, http.StatusCreated, "user registered successfully", userTokens{
		User:   res.User.Public(),
		Tokens: res.Tokens,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	decodeBody(r, &req)

	res, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrInvalidInput):
			response.Error(w, http.StatusBadRequest, "email and password are required")
		case errors.Is(err, pkgerrors.ErrInvalidCredentials):
			response.Error(w, http.StatusUnauthorized, pkgerrors.ErrInvalidCredentials.Error())
		default:
			h.internalError(w, r, err)
		}
		return
	}

	response.Success(w, http.StatusOK, "login successful", userTokens{
		User:   res.User.Public().WithActivity(res.User),
		Tokens: res.Tokens,
	})
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	decodeBody(r, &req)

	access, user, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrInvalidInput):
			response.Error(w, http.StatusBadRequest, "refresh token required")
		case errors.Is(err, pkgerrors.ErrInvalidToken):
			response.Error(w, http.StatusForbidden, "invalid or expired refresh token")
		case errors.Is(err, pkgerrors.ErrUserNotFound):
			response.Error(w, http.StatusForbidden, pkgerrors.ErrUserNotFound.Error())
		default:
			h.internalError(w, r, err)
		}
		return
	}

	response.Success(w, http.StatusOK, "token refreshed successfully", refreshed{
		AccessToken: access,
		User:        user.Public().WithActivity(user),
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context()); err != nil {
		h.internalError(w, r, err)
		return
	}
	response.Success(w, http.StatusOK, "logged out successfully", nil)
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request) {
	claims, ok := auth.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, http.StatusUnauthorized, pkgerrors.ErrUnauthenticated.Error())
		return
	}

	user, err := h.service.Profile(r.Context(), claims)
	h.writeUser(w, r, user, err)
}

func (h *Handler) UserByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		response.Error(w, http.StatusBadRequest, "invalid user id")
		return
	}

	user, err := h.service.UserByID(r.Context(), id)
	h.writeUser(w, r, user, err)
}

func (h *Handler) writeUser(w http.ResponseWriter, r *http.Request, user *models.User, err error) {
	if err != nil {
		switch {
		case errors.Is(err, pkgerrors.ErrUnauthenticated):
			response.Error(w, http.StatusUnauthorized, pkgerrors.ErrUnauthenticated.Error())
		case errors.Is(err, pkgerrors.ErrUserNotFound):
			response.Error(w, http.StatusNotFound, pkgerrors.ErrUserNotFound.Error())
		case errors.Is(err, pkgerrors.ErrInvalidInput):
			response.Error(w, http.StatusBadRequest, "invalid user id")
		default:
			h.internalError(w, r, err)
		}
		return
	}
	response.Success(w, http.StatusOK, "", userOnly{User: user.Public().WithActivity(user).WithCreated(user)})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	attrs := []any{"method", r.Method, "path", r.URL.Path, "error", err}
	if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
		attrs = append(attrs, "trace_id", sc.TraceID().String())
	}
	slog.Error("request failed", attrs...)
	body := response.ErrorBody{Success: false, Message: internalErrorMessage}
	if h.development {
		body.Error = err.Error()
		body.Stack = string(debug.Stack())
	}
	response.JSON(w, http.StatusInternalServerError, body)
}

// decodeBody leaves dst zeroed when the body is missing or malformed, so the
// request fails field validation instead of parsing.
func decodeBody(r *http.Request, dst any) {
	if r.Body == nil {
		return
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		slog.Debug("request body not decoded", "path", r.URL.Path, "error", err)
		reflect.ValueOf(dst).Elem().SetZero()
	}
}
