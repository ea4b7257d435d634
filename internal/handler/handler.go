package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coursehub/course-service/internal/models"
	service "github.com/coursehub/course-service/internal/services"
	pkgerrors "github.com/coursehub/course-service/pkg/errors"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type Handler struct {
	payments service.PaymentService
	courses  service.CourseService
}

func NewHandler(payments service.PaymentService, courses service.CourseService) *Handler {
	return &Handler{payments: payments, courses: courses}
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrInvalidCredentials), errors.Is(err, pkgerrors.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, pkgerrors.ErrPriceRequired):
		return http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrUserNotFound), errors.Is(err, pkgerrors.ErrCourseNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrInsufficientFunds):
		return http.StatusNotAcceptable
	case errors.Is(err, pkgerrors.ErrEmailExists),
		errors.Is(err, pkgerrors.ErrCourseCodeExists),
		errors.Is(err, pkgerrors.ErrAlreadyPaid):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusFromError(err))
	json.NewEncoder(w).Encode(errorResponse{Error: err.Error()})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/auth", h.Login).Methods("POST")
	r.HandleFunc("/token/refresh", h.Refresh).Methods("POST")
	r.HandleFunc("/courses", h.Courses).Methods("GET")
	r.HandleFunc("/courses/{code}", h.Course).Methods("GET")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/users/current", h.CurrentUser).Methods("GET")
	r.HandleFunc("/deposit", h.Deposit).Methods("POST")
	r.HandleFunc("/courses/new", h.NewCourse).Methods("POST")
	r.HandleFunc("/courses/{code}/edit", h.EditCourse).Methods("POST")
	r.HandleFunc("/courses/{code}/pay", h.Pay).Methods("POST")
	r.HandleFunc("/transactions", h.Transactions).Methods("GET")
}

func userIDFrom(r *http.Request) (int32, bool) {
	userID, ok := r.Context().Value("user_id").(int32)
	return userID, ok
}

func isAdmin(r *http.Request) bool {
	roles, ok := r.Context().Value("roles").([]string)
	if !ok {
		return false
	}
	for _, role := range roles {
		if role == models.RoleSuperAdmin {
			return true
		}
	}
	return false
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	tokens, err := h.payments.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, tokens)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	tokens, err := h.payments.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	tokens, err := h.payments.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) CurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidToken)
		return
	}

	user, err := h.payments.CurrentUser(r.Context(), userID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"username": user.Email,
		"roles":    user.Roles,
		"balance":  user.Balance,
	})
}

func (h *Handler) Deposit(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidToken)
		return
	}

	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	tx, err := h.payments.Deposit(r.Context(), userID, req.Amount)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) Courses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.courses.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, courses)
}

func (h *Handler) Course(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	course, err := h.courses.GetByCode(r.Context(), code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, course)
}

type courseRequest struct {
	Name  string           `json:"name"`
	Code  string           `json:"code"`
	Type  string           `json:"type"`
	Price *decimal.Decimal `json:"price"`
}

func (req courseRequest) toInput() service.CourseInput {
	return service.CourseInput{
		Name:  req.Name,
		Code:  req.Code,
		Type:  models.CourseType(req.Type),
		Price: req.Price,
	}
}

func (h *Handler) NewCourse(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "access denied"})
		return
	}

	var req courseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	course, err := h.courses.Create(r.Context(), req.toInput())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]interface{}{"success": true, "course": course})
}

func (h *Handler) EditCourse(w http.ResponseWriter, r *http.Request) {
	if !isAdmin(r) {
		h.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "access denied"})
		return
	}

	code := mux.Vars(r)["code"]
	var req courseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	course, err := h.courses.Edit(r.Context(), code, req.toInput())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "course": course})
}

type paymentResponse struct {
	Success   bool       `json:"success"`
	Type      string     `json:"course_type"`
	ExpiresAt *time.Time `json:"expires_at"`
}

func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidToken)
		return
	}

	code := mux.Vars(r)["code"]
	course, err := h.courses.GetByCode(r.Context(), code)
	if err != nil {
		h.writeError(w, err)
		return
	}

	// A free course costs nothing; no ledger entry is recorded.
	if course.Type == models.CourseFree {
		h.writeJSON(w, http.StatusOK, paymentResponse{Success: true, Type: string(course.Type)})
		return
	}

	tx, err := h.payments.Pay(r.Context(), userID, course)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, paymentResponse{
		Success:   true,
		Type:      string(course.Type),
		ExpiresAt: tx.ExpiresAt,
	})
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFrom(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidToken)
		return
	}

	filter := models.TransactionFilter{}
	if v := r.URL.Query().Get("type"); v != "" {
		txType := models.TransactionType(v)
		if !txType.Valid() {
			h.writeError(w, pkgerrors.ErrInvalidInput)
			return
		}
		filter.Type = &txType
	}
	if v := r.URL.Query().Get("code"); v != "" {
		filter.CourseCode = &v
	}
	if v := r.URL.Query().Get("skip_expired"); v == "true" || v == "1" {
		filter.SkipExpired = true
	}

	transactions, err := h.payments.ListTransactions(r.Context(), userID, filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, transactions)
}
