package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"escrowflow/auth"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/stats"
)

// EscrowService abstracts the escrow state machine for the HTTP layer.
type EscrowService interface {
	Create(ctx context.Context, params escrow.CreateParams) (escrow.Account, error)
	Get(ctx context.Context, id string) (escrow.Account, error)
	Activate(ctx context.Context, id string, expectedVersion int) (escrow.Account, error)
	MarkShipped(ctx context.Context, id, sellerID string, expectedVersion int) (escrow.Account, error)
	ConfirmReceipt(ctx context.Context, id, buyerID string, expectedVersion int) (escrow.Account, error)
	AutoReleaseIfOverdue(ctx context.Context, id string, window time.Duration) (escrow.ReleaseOutcome, error)
}

// DisputeService abstracts the dispute case manager for the HTTP layer.
type DisputeService interface {
	File(ctx context.Context, params dispute.FileParams) (dispute.Case, error)
	ListPending(ctx context.Context) ([]dispute.Case, error)
	StartReview(ctx context.Context, disputeID string) (dispute.Case, error)
	Resolve(ctx context.Context, params dispute.ResolveParams) (dispute.Resolution, error)
}

// StatsService abstracts reporting rollups for the HTTP layer.
type StatsService interface {
	Overview(ctx context.Context, period time.Duration) (stats.Summary, error)
}

// AuthService abstracts authentication for the HTTP layer.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.Account, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(tokenString string) (string, auth.Role, error)
}

// Server wires the escrow engine to the admin HTTP surface. The engine
// itself never sees HTTP; handlers translate requests into engine calls and
// sentinel errors into status codes.
type Server struct {
	authService    AuthService
	escrowService  EscrowService
	disputeService DisputeService
	statsService   StatsService
	releaseWindow  time.Duration
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", s.handleLogin)
	mux.HandleFunc("/api/auth/register", s.handleRegister)
	mux.HandleFunc("/api/escrows", s.handleCreateEscrow)
	mux.HandleFunc("/api/escrows/", s.handleEscrowPath)
	mux.HandleFunc("/api/disputes", s.handleFileDispute)
	mux.HandleFunc("/api/disputes/pending", s.handlePendingDisputes)
	mux.HandleFunc("/api/disputes/", s.handleDisputePath)
	mux.HandleFunc("/api/stats", s.handleStats)
	return mux
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"token":      result.Token,
		"account_id": result.Account.ID,
		"role":       string(result.Account.Role),
	})
}

// handleRegister creates arbitration staff accounts. Only an existing admin
// may add accounts; the first admin is seeded out of band.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_, role, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if role != auth.RoleAdmin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	account, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			http.Error(w, "email already registered", http.StatusConflict)
		case errors.Is(err, auth.ErrWeakPassword):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.internalError(w, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{
		"account_id": account.ID,
		"email":      account.Email,
		"role":       string(account.Role),
	})
}

type createEscrowRequest struct {
	OrderID  string `json:"order_id"`
	BuyerID  string `json:"buyer_id"`
	SellerID string `json:"seller_id"`
	Amount   int64  `json:"amount"`
}

func (s *Server) handleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, _, ok := s.authenticate(w, r); !ok {
		return
	}

	var req createEscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	acct, err := s.escrowService.Create(r.Context(), escrow.CreateParams{
		OrderID:  req.OrderID,
		BuyerID:  req.BuyerID,
		SellerID: req.SellerID,
		Amount:   req.Amount,
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEscrowResponse(acct))
}

type transitionRequest struct {
	Version int    `json:"version"`
	ActorID string `json:"actor_id"`
}

func (s *Server) handleEscrowPath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/escrows/")
	if rest == "" {
		http.Error(w, "escrow id required", http.StatusBadRequest)
		return
	}
	parts := strings.SplitN(rest, "/", 2)
	id := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if _, _, ok := s.authenticate(w, r); !ok {
			return
		}
		acct, err := s.escrowService.Get(r.Context(), id)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEscrowResponse(acct))
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, _, ok := s.authenticate(w, r); !ok {
		return
	}

	action := parts[1]
	if action == "auto-release" {
		outcome, err := s.escrowService.AutoReleaseIfOverdue(r.Context(), id, s.releaseWindow)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"outcome": string(outcome)})
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var (
		acct escrow.Account
		err  error
	)
	switch action {
	case "activate":
		acct, err = s.escrowService.Activate(r.Context(), id, req.Version)
	case "ship":
		acct, err = s.escrowService.MarkShipped(r.Context(), id, req.ActorID, req.Version)
	case "confirm":
		acct, err = s.escrowService.ConfirmReceipt(r.Context(), id, req.ActorID, req.Version)
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEscrowResponse(acct))
}

type fileDisputeRequest struct {
	EscrowID    string `json:"escrow_id"`
	Reason      string `json:"reason"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
}

func (s *Server) handleFileDispute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, _, ok := s.authenticate(w, r); !ok {
		return
	}

	var req fileDisputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	c, err := s.disputeService.File(r.Context(), dispute.FileParams{
		EscrowID:    req.EscrowID,
		Reason:      dispute.Reason(req.Reason),
		Description: req.Description,
		Priority:    dispute.Priority(req.Priority),
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toDisputeResponse(c))
}

func (s *Server) handlePendingDisputes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, _, ok := s.authenticate(w, r); !ok {
		return
	}

	cases, err := s.disputeService.ListPending(r.Context())
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	out := make([]disputeResponse, 0, len(cases))
	for _, c := range cases {
		out = append(out, toDisputeResponse(c))
	}
	writeJSON(w, http.StatusOK, out)
}

type resolveDisputeRequest struct {
	ResolutionNotes string `json:"resolution_notes"`
	AwardToBuyerPct int    `json:"award_to_buyer_percentage"`
}

func (s *Server) handleDisputePath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/disputes/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "dispute id and action required", http.StatusBadRequest)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	actorID, role, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	id, action := parts[0], parts[1]
	switch action {
	case "review":
		c, err := s.disputeService.StartReview(r.Context(), id)
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toDisputeResponse(c))
	case "resolve":
		if role != auth.RoleArbitrator && role != auth.RoleAdmin {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		var req resolveDisputeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		res, err := s.disputeService.Resolve(r.Context(), dispute.ResolveParams{
			DisputeID:       id,
			ArbitratorID:    actorID,
			ResolutionNotes: req.ResolutionNotes,
			AwardToBuyerPct: req.AwardToBuyerPct,
		})
		if err != nil {
			s.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resolutionResponse{
			Dispute:      toDisputeResponse(res.Case),
			BuyerAmount:  res.BuyerAmount,
			SellerAmount: res.SellerAmount,
			Refunded:     res.Refunded,
		})
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, _, ok := s.authenticate(w, r); !ok {
		return
	}

	days := 30
	if raw := r.URL.Query().Get("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "days must be a positive integer", http.StatusBadRequest)
			return
		}
		days = parsed
	}

	summary, err := s.statsService.Overview(r.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsResponse(summary))
}

// authenticate extracts and verifies the bearer token. It writes the error
// response itself so handlers can return early on !ok.
func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, auth.Role, bool) {
	header := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || token == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return "", "", false
	}

	accountID, role, err := s.authService.VerifyToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return "", "", false
	}
	return accountID, role, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escrow.ErrNotFound), errors.Is(err, dispute.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, escrow.ErrInvalidInput), errors.Is(err, dispute.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, dispute.ErrAlreadyDisputed):
		http.Error(w, "escrow already has an active dispute", http.StatusConflict)
	case errors.Is(err, escrow.ErrConflict), errors.Is(err, dispute.ErrConflict):
		http.Error(w, "state changed concurrently, re-fetch and retry if still applicable", http.StatusConflict)
	case errors.Is(err, escrow.ErrInvalidState), errors.Is(err, dispute.ErrInvalidState):
		http.Error(w, "action no longer available", http.StatusUnprocessableEntity)
	default:
		s.internalError(w, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	log.Printf("internal error: %v", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

type escrowResponse struct {
	ID         string `json:"id"`
	OrderID    string `json:"order_id"`
	BuyerID    string `json:"buyer_id"`
	SellerID   string `json:"seller_id"`
	Amount     int64  `json:"amount"`
	FeeAmount  int64  `json:"fee_amount"`
	Status     string `json:"status"`
	Version    int    `json:"version"`
	CreatedAt  string `json:"created_at"`
	ShippedAt  string `json:"shipped_at,omitempty"`
	ReleasedAt string `json:"released_at,omitempty"`
}

func toEscrowResponse(acct escrow.Account) escrowResponse {
	resp := escrowResponse{
		ID:        acct.ID,
		OrderID:   acct.OrderID,
		BuyerID:   acct.BuyerID,
		SellerID:  acct.SellerID,
		Amount:    acct.Amount,
		FeeAmount: acct.FeeAmount,
		Status:    string(acct.Status),
		Version:   acct.Version,
		CreatedAt: acct.CreatedAt.Format(time.RFC3339),
	}
	if acct.ShippedAt != nil {
		resp.ShippedAt = acct.ShippedAt.Format(time.RFC3339)
	}
	if acct.ReleasedAt != nil {
		resp.ReleasedAt = acct.ReleasedAt.Format(time.RFC3339)
	}
	return resp
}

type disputeResponse struct {
	ID              string `json:"id"`
	EscrowID        string `json:"escrow_id"`
	Status          string `json:"status"`
	Priority        string `json:"priority"`
	Reason          string `json:"reason"`
	Description     string `json:"description,omitempty"`
	CreatedAt       string `json:"created_at"`
	ResolvedBy      string `json:"resolved_by,omitempty"`
	ResolutionNotes string `json:"resolution_notes,omitempty"`
	AwardToBuyerPct *int   `json:"award_to_buyer_percentage,omitempty"`
	ResolvedAt      string `json:"resolved_at,omitempty"`
}

func toDisputeResponse(c dispute.Case) disputeResponse {
	resp := disputeResponse{
		ID:              c.ID,
		EscrowID:        c.EscrowID,
		Status:          string(c.Status),
		Priority:        string(c.Priority),
		Reason:          string(c.Reason),
		Description:     c.Description,
		CreatedAt:       c.CreatedAt.Format(time.RFC3339),
		AwardToBuyerPct: c.AwardToBuyerPct,
	}
	if c.ResolvedBy != nil {
		resp.ResolvedBy = *c.ResolvedBy
	}
	if c.ResolutionNotes != nil {
		resp.ResolutionNotes = *c.ResolutionNotes
	}
	if c.ResolvedAt != nil {
		resp.ResolvedAt = c.ResolvedAt.Format(time.RFC3339)
	}
	return resp
}

type resolutionResponse struct {
	Dispute      disputeResponse `json:"dispute"`
	BuyerAmount  int64           `json:"buyer_amount"`
	SellerAmount int64           `json:"seller_amount"`
	Refunded     bool            `json:"refunded"`
}

type statsResponse struct {
	TotalEscrows       int64   `json:"total_escrows"`
	ActiveEscrows      int64   `json:"active_escrows"`
	ShippedEscrows     int64   `json:"shipped_escrows"`
	DisputedEscrows    int64   `json:"disputed_escrows"`
	ReleasedEscrows    int64   `json:"released_escrows"`
	RefundedEscrows    int64   `json:"refunded_escrows"`
	HeldAmount         int64   `json:"held_amount"`
	TotalAmount        int64   `json:"total_amount"`
	TotalFeesCollected int64   `json:"total_fees_collected"`
	AvgHoldingDays     float64 `json:"avg_holding_days"`
	OpenDisputes       int64   `json:"open_disputes"`
	TotalDisputes      int64   `json:"total_disputes"`
}

func toStatsResponse(s stats.Summary) statsResponse {
	return statsResponse{
		TotalEscrows:       s.TotalEscrows,
		ActiveEscrows:      s.ActiveEscrows,
		ShippedEscrows:     s.ShippedEscrows,
		DisputedEscrows:    s.DisputedEscrows,
		ReleasedEscrows:    s.ReleasedEscrows,
		RefundedEscrows:    s.RefundedEscrows,
		HeldAmount:         s.HeldAmount,
		TotalAmount:        s.TotalAmount,
		TotalFeesCollected: s.TotalFeesCollected,
		AvgHoldingDays:     s.AvgHoldingDays,
		OpenDisputes:       s.OpenDisputes,
		TotalDisputes:      s.TotalDisputes,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}
