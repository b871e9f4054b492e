// internal/circulation/handler.go
package circulation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/time/rate"

	"libralend/internal/directory"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Handler struct {
	service Service
	limiter *rate.Limiter
}

// NewHandler exposes the service over HTTP. A nil limiter disables rate limiting.
func NewHandler(service Service, limiter *rate.Limiter) *Handler {
	return &Handler{service: service, limiter: limiter}
}

// Routes returns the chi router for the lending API.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.rateLimit)

	r.Post("/users", h.HandleAddUser)
	r.Post("/books", h.HandleAddBook)
	r.Post("/borrow", h.HandleBorrow)
	r.Post("/return", h.HandleReturn)
	r.Get("/state", h.HandleState)
	r.Get("/books/{id}/history", h.HandleBookHistory)
	return r
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type outcomeResponse struct {
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message"`
	Applied bool    `json:"applied"`
}

func (h *Handler) HandleAddUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   int            `json:"id"`
		Name string         `json:"name"`
		Role directory.Role `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := h.service.AddUser(r.Context(), req.ID, req.Name, req.Role)
	h.writeOutcome(w, outcome, err)
}

func (h *Handler) HandleAddBook(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActingUserID int    `json:"acting_user_id"`
		ID           int    `json:"id"`
		Title        string `json:"title"`
		Author       string `json:"author"`
		Copies       int    `json:"copies"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := h.service.AddBook(r.Context(), req.ActingUserID, req.ID, req.Title, req.Author, req.Copies)
	h.writeOutcome(w, outcome, err)
}

type loanRequest struct {
	UserID int `json:"user_id"`
	BookID int `json:"book_id"`
}

func (h *Handler) HandleBorrow(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := h.service.BorrowBook(r.Context(), req.UserID, req.BookID)
	h.writeOutcome(w, outcome, err)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	outcome, err := h.service.ReturnBook(r.Context(), req.UserID, req.BookID)
	h.writeOutcome(w, outcome, err)
}

func (h *Handler) HandleState(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.ListState(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) HandleBookHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	events, err := h.service.BookHistory(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) writeOutcome(w http.ResponseWriter, outcome Outcome, err error) {
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	status := http.StatusOK
	if outcome == OutcomeUserAdded || outcome == OutcomeBookAdded {
		status = http.StatusCreated
	}
	writeJSON(w, status, outcomeResponse{
		Outcome: outcome,
		Message: outcome.Message(),
		Applied: outcome.Applied(),
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrStorage):
		return http.StatusInternalServerError
	case errors.Is(err, ErrInvalidUser), errors.Is(err, ErrInvalidBook):
		return http.StatusNotFound
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrBookNotAvailable):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidCopies), errors.Is(err, ErrInvalidRole):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
