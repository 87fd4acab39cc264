package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/settled-dev/settled/internal/config"
	"github.com/settled-dev/settled/internal/importer"
	"github.com/settled-dev/settled/internal/ledger"
	"github.com/settled-dev/settled/internal/money"
	"github.com/settled-dev/settled/internal/pipeline"
	"github.com/settled-dev/settled/internal/store"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "settled_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "settled_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

// defaultMaxCSVBytes bounds uploaded statements when the config does
// not set a limit.
const defaultMaxCSVBytes = 4 << 20

// Handler serves the payment pipeline HTTP API. Every request builds a
// fresh pipeline over the shared store, so concurrent submissions never
// share resolution state.
type Handler struct {
	cfg      *config.Config
	store    store.Ledger
	registry *importer.Registry
	log      *slog.Logger
	loc      *time.Location
}

// NewHandler builds the API handler.
func NewHandler(cfg *config.Config, st store.Ledger, registry *importer.Registry, log *slog.Logger) (*Handler, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Handler{cfg: cfg, store: st, registry: registry, log: log, loc: loc}, nil
}

// Router wires the handler's routes.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthHandler).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/pipeline/submit", h.SubmitHandler).Methods("POST")
	apiV1.HandleFunc("/statements", h.StatementHandler).Methods("POST")
	return r
}

// HealthHandler reports liveness.
func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// submitRequest is the transaction batch envelope.
type submitRequest struct {
	Transactions []json.RawMessage `json:"transactions"`

	// Commit defaults to true; review-only runs send false.
	Commit *bool `json:"commit"`
}

// submitTransaction is one externally submitted payment. Exactly one
// of AccountID and AccountLookup must be set.
type submitTransaction struct {
	TransactionID string `json:"transaction_id"`
	AccountID     int64  `json:"transaction_party_id,omitempty"`
	AccountLookup string `json:"account_lookup,omitempty"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Timestamp     string `json:"timestamp"`
	SectionID     int    `json:"pipeline_section_id,omitempty"`
	DoNotSkip     bool   `json:"do_not_skip,omitempty"`
}

type transactionResponse struct {
	TransactionID string         `json:"transaction_id"`
	Errors        []string       `json:"errors"`
	Warnings      []string       `json:"warnings"`
	Verdict       ledger.Verdict `json:"verdict"`
	Committed     *bool          `json:"committed,omitempty"`
}

type submitResponse struct {
	PipelineResponses []transactionResponse `json:"pipeline_responses"`
	AllCommitted      bool                  `json:"all_committed"`
}

// SubmitHandler accepts a batch of payment transactions, reviews them
// and, unless the request opts out, commits the reviewable ones.
func (h *Handler) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/pipeline/submit"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	var req submitRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.clientError(w, endpoint, fmt.Sprintf("Malformed request body: %v", err))
		return
	}

	txs := make([]*ledger.ResolvedTransaction, 0, len(req.Transactions))
	for i, raw := range req.Transactions {
		tx, err := h.decodeTransaction(raw, i)
		if err != nil {
			h.clientError(w, endpoint, fmt.Sprintf("Transaction %d: %v", i+1, err))
			return
		}
		txs = append(txs, tx)
	}

	commit := req.Commit == nil || *req.Commit

	pl, err := pipeline.FromConfig(h.cfg, h.store, h.log)
	if err != nil {
		h.serverError(w, endpoint, err)
		return
	}
	if err := pl.Submit(r.Context(), txs); err != nil {
		h.clientError(w, endpoint, err.Error())
		return
	}
	if commit {
		err = pl.Commit(r.Context())
	} else {
		err = pl.Review(r.Context())
	}
	if err != nil {
		h.serverError(w, endpoint, err)
		return
	}

	resp := submitResponse{
		PipelineResponses: make([]transactionResponse, len(txs)),
		AllCommitted:      commit && len(txs) > 0,
	}
	for i, tx := range txs {
		tr := transactionResponse{
			TransactionID: tx.TransactionID,
			Errors:        tx.Messages.Errors,
			Warnings:      tx.Messages.Warnings,
			Verdict:       tx.Messages.Verdict(),
		}
		if tr.Errors == nil {
			tr.Errors = []string{}
		}
		if tr.Warnings == nil {
			tr.Warnings = []string{}
		}
		if commit {
			committed := tx.ToCommit()
			tr.Committed = &committed
			if !committed {
				resp.AllCommitted = false
			}
		}
		resp.PipelineResponses[i] = tr
	}

	status := http.StatusOK
	if commit {
		status = http.StatusCreated
	}
	httpRequestsTotal.WithLabelValues("POST", endpoint, fmt.Sprint(status)).Inc()
	respondWithJSON(w, status, resp)
}

func (h *Handler) decodeTransaction(raw json.RawMessage, index int) (*ledger.ResolvedTransaction, error) {
	var st submitTransaction
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&st); err != nil {
		return nil, fmt.Errorf("malformed transaction: %w", err)
	}
	if st.TransactionID == "" {
		return nil, fmt.Errorf("transaction_id is required")
	}
	if st.AccountID == 0 && st.AccountLookup == "" {
		return nil, fmt.Errorf("either transaction_party_id or account_lookup is required")
	}
	if st.Currency != "" && st.Currency != h.cfg.Ledger.Currency {
		return nil, fmt.Errorf("currency %q not supported, ledger uses %s", st.Currency, h.cfg.Ledger.Currency)
	}
	amount, err := money.ParseDecimal(st.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", st.Amount)
	}
	ts, err := parseTimestamp(st.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q", st.Timestamp)
	}
	sectionID := st.SectionID
	if sectionID == 0 {
		sectionID = 1
	}
	if sectionID < 1 || sectionID > len(h.cfg.Sections) {
		return nil, fmt.Errorf("unknown pipeline section %d", st.SectionID)
	}
	return &ledger.ResolvedTransaction{
		AccountID:     st.AccountID,
		Amount:        money.New(amount, h.cfg.Ledger.Currency),
		Timestamp:     ts,
		AccountLookup: st.AccountLookup,
		LineNo:        index + 1,
		TransactionID: st.TransactionID,
		SectionID:     sectionID,
		DoNotSkip:     st.DoNotSkip,
		Messages:      &ledger.MessageContext{},
	}, nil
}

// parseTimestamp accepts RFC 3339, or a zone-less form interpreted as
// UTC, matching what statement middleware typically submits.
func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02T15:04:05", s)
}

type statementResponse struct {
	Transactions int                 `json:"transactions"`
	Committed    bool                `json:"committed"`
	Errors       []ledger.LineMessage `json:"errors"`
	Warnings     []ledger.LineMessage `json:"warnings"`
}

// StatementHandler ingests a raw CSV statement. Review-only by
// default; pass ?commit=true to persist.
func (h *Handler) StatementHandler(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/v1/statements"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	maxBytes := h.cfg.Server.MaxCSVBytes
	if maxBytes == 0 {
		maxBytes = defaultMaxCSVBytes
	}
	body := http.MaxBytesReader(w, r.Body, maxBytes)

	format := r.URL.Query().Get("format")
	if format == "" {
		format = h.cfg.Import.CSVFormat
	}
	parser := h.registry.Get(format)
	if parser == nil {
		h.clientError(w, endpoint, fmt.Sprintf("Unknown statement format %q", format))
		return
	}

	pl, err := pipeline.FromConfig(h.cfg, h.store, h.log)
	if err != nil {
		h.serverError(w, endpoint, err)
		return
	}
	fb := pl.Feedback()
	opts := importer.Options{Currency: h.cfg.Ledger.Currency, Location: h.loc}
	raw, err := parser.Parse(body, opts, fb)
	if err != nil {
		h.clientError(w, endpoint, err.Error())
		return
	}
	if err := pl.Resolve(r.Context(), raw); err != nil {
		h.serverError(w, endpoint, err)
		return
	}

	commit := r.URL.Query().Get("commit") == "true"
	if commit {
		err = pl.Commit(r.Context())
	} else {
		err = pl.Review(r.Context())
	}
	if err != nil {
		h.serverError(w, endpoint, err)
		return
	}

	resp := statementResponse{
		Transactions: len(pl.Transactions()),
		Committed:    commit,
		Errors:       fb.Errors(),
		Warnings:     fb.Warnings(),
	}
	if resp.Errors == nil {
		resp.Errors = []ledger.LineMessage{}
	}
	if resp.Warnings == nil {
		resp.Warnings = []ledger.LineMessage{}
	}
	status := http.StatusOK
	if commit {
		status = http.StatusCreated
	}
	httpRequestsTotal.WithLabelValues("POST", endpoint, fmt.Sprint(status)).Inc()
	respondWithJSON(w, status, resp)
}

func (h *Handler) clientError(w http.ResponseWriter, endpoint, msg string) {
	httpRequestsTotal.WithLabelValues("POST", endpoint, "400").Inc()
	respondWithError(w, http.StatusBadRequest, msg)
}

func (h *Handler) serverError(w http.ResponseWriter, endpoint string, err error) {
	h.log.Error("request failed", "endpoint", endpoint, "err", err)
	httpRequestsTotal.WithLabelValues("POST", endpoint, "500").Inc()
	respondWithError(w, http.StatusInternalServerError, "Internal Server Error")
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
