package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Skryensya/logdr.io-sub000/internal/auth"
	"github.com/Skryensya/logdr.io-sub000/internal/domain"
	"github.com/Skryensya/logdr.io-sub000/internal/events"
	"github.com/Skryensya/logdr.io-sub000/internal/ledger"
)

// respondJSON writes a JSON response with the given status.
func (s *Server) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps a storage or validation error onto an HTTP status.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	var ve *domain.ValidationError
	var notFound *ledger.NotFoundError
	var conflict *ledger.ConflictError
	var unbalanced *ledger.UnbalancedTransactionError
	var blocked *ledger.ArchivalBlockedError

	switch {
	case errors.As(err, &ve):
		s.respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  "validation failed",
			"fields": ve.Fields,
		})
	case errors.As(err, &unbalanced):
		s.respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":  err.Error(),
			"deltas": unbalanced.Deltas,
		})
	case errors.As(err, &notFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict), errors.As(err, &blocked):
		s.respondError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error().Err(err).Msg("Request failed")
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// requireUnlocked gates data routes on the auth machine's state.
func (s *Server) requireUnlocked(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := s.machine.Engine(); !ok {
			status := s.machine.Snapshot()
			s.respondJSON(w, http.StatusUnauthorized, map[string]interface{}{
				"error": "locked",
				"state": status.State,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) engine(w http.ResponseWriter) (*ledger.Engine, bool) {
	eng, ok := s.machine.Engine()
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "locked")
	}
	return eng, ok
}

// ---- Auth ----

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.machine.Snapshot())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Token == "" {
		s.respondError(w, http.StatusBadRequest, "token is required")
		return
	}

	status := s.machine.InitializeWithToken(req.Token)
	if status.LastError != "" {
		s.respondJSON(w, http.StatusUnauthorized, status)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.machine.Logout())
}

func (s *Server) handleUnlockSecret(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Secret string `json:"secret"`
	}
	if !s.decode(w, r, &req) {
		return
	}

	status := s.machine.UnlockWithSecret(req.Secret)
	if status.State != auth.StateUnlocked {
		s.respondJSON(w, http.StatusUnauthorized, status)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleBeginPlatformUnlock(w http.ResponseWriter, r *http.Request) {
	challenge, ok := s.machine.BeginPlatformUnlock()
	if !ok {
		s.respondError(w, http.StatusConflict, "no platform unlock pending")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"challenge": challenge})
}

func (s *Server) handleCompletePlatformUnlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CredentialID string `json:"credentialId"`
		Challenge    string `json:"challenge"`
		Signature    string `json:"signature"` // base64url DER
	}
	if !s.decode(w, r, &req) {
		return
	}
	sig, err := base64.RawURLEncoding.DecodeString(req.Signature)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid signature encoding")
		return
	}

	status := s.machine.UnlockWithPlatform(req.CredentialID, req.Challenge, sig)
	if status.State != auth.StateUnlocked {
		s.respondJSON(w, http.StatusUnauthorized, status)
		return
	}
	s.respondJSON(w, http.StatusOK, status)
}

func (s *Server) handleDestroyData(w http.ResponseWriter, r *http.Request) {
	if err := s.machine.DestroyData(); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, s.machine.Snapshot())
}

// ---- Gate enrollment ----

func (s *Server) identity(w http.ResponseWriter) (string, bool) {
	identity, ok := s.machine.Identity()
	if !ok {
		s.respondError(w, http.StatusUnauthorized, "no active identity")
	}
	return identity, ok
}

func (s *Server) handleSetupSecret(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w)
	if !ok {
		return
	}
	var req struct {
		Secret string `json:"secret"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.secrets.Setup(identity, req.Secret); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.machine.RefreshGate()
	s.respondJSON(w, http.StatusCreated, map[string]string{"status": "configured"})
}

func (s *Server) handleChangeSecret(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w)
	if !ok {
		return
	}
	var req struct {
		Current string `json:"current"`
		Next    string `json:"next"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.secrets.Change(identity, req.Current, req.Next); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "changed"})
}

func (s *Server) handleRemoveSecret(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w)
	if !ok {
		return
	}
	if err := s.secrets.Remove(identity); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.machine.RefreshGate()
	s.bus.Emit(events.GateRemoved, "auth", map[string]interface{}{
		"identity": identity,
		"method":   "pin",
	})
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w)
	if !ok {
		return
	}
	creds, err := s.platform.Credentials(identity)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	available, err := s.platform.PlatformAuthenticatorAvailable(identity)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"credentials": creds,
		"supported":   s.platform.Supported(),
		"available":   available,
	})
}

func (s *Server) handleRegisterCredential(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w)
	if !ok {
		return
	}
	var req struct {
		PublicKey string `json:"publicKey"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	cred, err := s.platform.Register(identity, req.PublicKey)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.machine.RefreshGate()
	s.respondJSON(w, http.StatusCreated, cred)
}

func (s *Server) handleRemoveCredential(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w)
	if !ok {
		return
	}
	if err := s.platform.RemoveCredential(identity, chi.URLParam(r, "credentialID")); err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.machine.RefreshGate()
	s.bus.Emit(events.GateRemoved, "auth", map[string]interface{}{
		"identity": identity,
		"method":   "webauthn",
	})
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// ---- User and settings ----

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	user, err := eng.GetUser()
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	var patch domain.UserPatch
	if !s.decode(w, r, &patch) {
		return
	}
	user, err := eng.UpdateUser(patch)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	settings, err := eng.GetSettings()
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, settings)
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	var patch domain.SettingsPatch
	if !s.decode(w, r, &patch) {
		return
	}
	settings, err := eng.UpdateSettings(patch)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	// A gate change in settings takes effect on the next evaluation.
	if patch.GateMethod != nil || patch.GateDurationMin != nil {
		s.machine.RefreshGate()
	}
	s.respondJSON(w, http.StatusOK, settings)
}

// ---- Accounts ----

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	activeOnly := r.URL.Query().Get("all") != "true"
	accounts, err := eng.ListAccounts(activeOnly)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"accounts": accounts})
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	var draft domain.AccountDraft
	if !s.decode(w, r, &draft) {
		return
	}
	acc, warnings, err := eng.CreateAccount(draft)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"account":  acc,
		"warnings": warnings,
	})
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	acc, err := eng.GetAccount(chi.URLParam(r, "accountID"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, acc)
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	var patch domain.AccountPatch
	if !s.decode(w, r, &patch) {
		return
	}
	acc, err := eng.UpdateAccount(chi.URLParam(r, "accountID"), patch)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, acc)
}

func (s *Server) handleAccountBalance(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	balances, err := eng.AccountBalance(chi.URLParam(r, "accountID"), r.URL.Query().Get("upto"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"balances": balances})
}

// ---- Categories ----

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	activeOnly := r.URL.Query().Get("all") != "true"
	categories, err := eng.ListCategories(activeOnly)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"categories": categories})
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	var draft domain.CategoryDraft
	if !s.decode(w, r, &draft) {
		return
	}
	cat, warnings, err := eng.CreateCategory(draft)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"category": cat,
		"warnings": warnings,
	})
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	cat, err := eng.GetCategory(chi.URLParam(r, "categoryID"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, cat)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	var patch domain.CategoryPatch
	if !s.decode(w, r, &patch) {
		return
	}
	cat, err := eng.UpdateCategory(chi.URLParam(r, "categoryID"), patch)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, cat)
}

// ---- Transactions ----

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			s.respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	if month := r.URL.Query().Get("month"); month != "" {
		txns, err := eng.ListTransactionsByMonth(month)
		if err != nil {
			s.respondDomainError(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"transactions": txns})
		return
	}

	txns, next, err := eng.ListTransactions(limit, r.URL.Query().Get("cursor"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txns,
		"nextCursor":   next,
	})
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	var req struct {
		domain.TransactionDraft
		Lines []domain.LineDraft `json:"lines"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	result, warnings, err := eng.CreateTransaction(req.TransactionDraft, req.Lines)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"transaction": result.Transaction,
		"lines":       result.Lines,
		"warnings":    warnings,
	})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	result, err := eng.GetTransactionWithLines(chi.URLParam(r, "transactionID"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleReverseTransaction(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	result, err := eng.ReverseTransaction(chi.URLParam(r, "transactionID"), req.Reason)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, result)
}

func (s *Server) handleCorrectLine(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	var req struct {
		Amount int64  `json:"amount"`
		Reason string `json:"reason"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	result, err := eng.CorrectLine(chi.URLParam(r, "lineID"), req.Amount, req.Reason)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, result)
}

// ---- Reports and export ----

func (s *Server) handleMonthlyReport(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	report, err := eng.BuildMonthlyReport(chi.URLParam(r, "yearMonth"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleCategoryBreakdown(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	breakdown, err := eng.CategoryBreakdown(chi.URLParam(r, "yearMonth"))
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"categories": breakdown})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	bundle, err := eng.Export()
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", `attachment; filename="ledger-export.json"`)
	s.respondJSON(w, http.StatusOK, bundle)
}

func (s *Server) handleRebuildViews(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w)
	if !ok {
		return
	}
	if err := eng.RebuildViews(); err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "rebuilt"})
}
