package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bettask/internal/domain"
	"github.com/punchamoorthee/bettask/internal/engine"
	"github.com/punchamoorthee/bettask/internal/ledger"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bettask_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bettask_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	engine *engine.Engine
	ledger *ledger.Service
	log    *zap.Logger
}

func NewHandler(eng *engine.Engine, svc *ledger.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{engine: eng, ledger: svc, log: log}
}

// Register mounts all routes on the router.
func (h *Handler) Register(r *mux.Router) {
	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/messages", h.PostMessage).Methods("POST")
	apiV1.HandleFunc("/payments", h.PostPayment).Methods("POST")
	apiV1.HandleFunc("/proofs", h.PostProof).Methods("POST")
	apiV1.HandleFunc("/users/{id}/balance", h.GetBalance).Methods("GET")
	apiV1.HandleFunc("/users/{id}/transactions", h.GetTransactions).Methods("GET")
}

type messageRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

type replyResponse struct {
	Reply string `json:"reply"`
}

func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/messages"))
	defer timer.ObserveDuration()

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/messages")
		return
	}
	if req.UserID == "" || req.Text == "" {
		h.respondError(w, http.StatusUnprocessableEntity, "user_id and text are required", "POST", "/messages")
		return
	}

	reply, err := h.engine.HandleMessage(r.Context(), domain.UserID(req.UserID), req.Text)
	if err != nil {
		h.log.Error("message handling failed", zap.Error(err), zap.String("user_id", req.UserID))
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/messages")
		return
	}
	h.respondJSON(w, http.StatusOK, replyResponse{Reply: reply}, "POST", "/messages")
}

type paymentRequest struct {
	UserID   string `json:"user_id"`
	Media    string `json:"media"` // base64
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
}

func (h *Handler) PostPayment(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/payments"))
	defer timer.ObserveDuration()

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/payments")
		return
	}
	if req.UserID == "" {
		h.respondError(w, http.StatusUnprocessableEntity, "user_id is required", "POST", "/payments")
		return
	}

	media, err := base64.StdEncoding.DecodeString(req.Media)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "media must be base64", "POST", "/payments")
		return
	}

	reply, err := h.engine.HandlePaymentAssertion(r.Context(), domain.UserID(req.UserID), engine.PaymentAssertion{
		Media:    media,
		MimeType: req.MimeType,
		Caption:  req.Caption,
	})
	if err != nil {
		h.log.Error("payment handling failed", zap.Error(err), zap.String("user_id", req.UserID))
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/payments")
		return
	}
	h.respondJSON(w, http.StatusOK, replyResponse{Reply: reply}, "POST", "/payments")
}

func (h *Handler) PostProof(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/proofs"))
	defer timer.ObserveDuration()

	var req paymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/proofs")
		return
	}
	if req.UserID == "" {
		h.respondError(w, http.StatusUnprocessableEntity, "user_id is required", "POST", "/proofs")
		return
	}

	media, err := base64.StdEncoding.DecodeString(req.Media)
	if err != nil {
		h.respondError(w, http.StatusUnprocessableEntity, "media must be base64", "POST", "/proofs")
		return
	}

	reply, err := h.engine.HandleProofAssertion(r.Context(), domain.UserID(req.UserID), engine.ProofAssertion{
		Media:    media,
		MimeType: req.MimeType,
		Caption:  req.Caption,
	})
	if err != nil {
		h.log.Error("proof handling failed", zap.Error(err), zap.String("user_id", req.UserID))
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "POST", "/proofs")
		return
	}
	h.respondJSON(w, http.StatusOK, replyResponse{Reply: reply}, "POST", "/proofs")
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := domain.UserID(mux.Vars(r)["id"])

	balance, err := h.ledger.Balance(r.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrUserNotFound) {
			h.respondError(w, http.StatusNotFound, "User not found", "GET", "/users/{id}/balance")
			return
		}
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", "/users/{id}/balance")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]int64{"balance": balance}, "GET", "/users/{id}/balance")
}

func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := domain.UserID(mux.Vars(r)["id"])

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	txs, err := h.ledger.Transactions(r.Context(), id, limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, "Internal Server Error", "GET", "/users/{id}/transactions")
		return
	}
	h.respondJSON(w, http.StatusOK, txs, "GET", "/users/{id}/transactions")
}

// Helpers
func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
