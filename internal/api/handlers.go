package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/uicc-server/uicc-server-pro/internal/models"
	"github.com/uicc-server/uicc-server-pro/internal/storage"
	"github.com/uicc-server/uicc-server-pro/internal/uicc"
)

// ========== Auth handlers ==========

// HandleLogin handles admin login
func (s *RESTServer) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !s.auth.Authenticate(req.Username, req.Password) {
		s.respondError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	accessToken, refreshToken, err := s.auth.GenerateTokenPair(req.Username)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to generate tokens")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// HandleRefresh handles token refresh
func (s *RESTServer) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	accessToken, refreshToken, err := s.auth.RefreshToken(req.RefreshToken)
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"expires_in":    int(s.config.JWT.AccessTokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// ========== Slot handlers ==========

// HandleListSlots lists all slots
func (s *RESTServer) HandleListSlots(w http.ResponseWriter, r *http.Request) {
	snapshots := s.controller.SlotSnapshots()

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":               len(snapshots),
		"slotStatusSupported": s.controller.SlotStatusSupported(),
		"slots":               snapshots,
	})
}

// HandleGetSlot gets one slot
func (s *RESTServer) HandleGetSlot(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid slot index")
		return
	}

	slot := s.controller.Slot(index)
	if slot == nil {
		s.respondError(w, http.StatusNotFound, "slot not found")
		return
	}

	s.respondJSON(w, http.StatusOK, slot.Snapshot())
}

// HandleSetBrandOverride persists a brand override for the card currently
// in the slot and applies it live when that card is loaded
func (s *RESTServer) HandleSetBrandOverride(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid slot index")
		return
	}

	var req struct {
		Brand string `json:"brand"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Brand == "" {
		s.respondError(w, http.StatusBadRequest, "brand is required")
		return
	}

	slot := s.controller.Slot(index)
	if slot == nil {
		s.respondError(w, http.StatusNotFound, "slot not found")
		return
	}

	iccid := slot.ICCID()
	if iccid == "" {
		s.respondError(w, http.StatusConflict, "no card identity available for slot")
		return
	}

	if err := s.brands.Set(r.Context(), iccid, req.Brand); err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Apply to the running stack without waiting for the next card event.
	if phoneID := slot.PhoneID(); phoneID != uicc.InvalidPhoneID {
		if state := s.controller.SimStateForPhone(phoneID); state == uicc.SimStateLoaded {
			s.publisher.SetSimOperatorName(phoneID, req.Brand)
		}
	}

	log.Info().
		Int("slot", index).
		Str("iccid", iccid).
		Str("brand", req.Brand).
		Msg("Brand override set")

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"iccid": iccid,
		"brand": req.Brand,
	})
}

// HandleDeleteBrandOverride removes the brand override for the card
// currently in the slot
func (s *RESTServer) HandleDeleteBrandOverride(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid slot index")
		return
	}

	slot := s.controller.Slot(index)
	if slot == nil {
		s.respondError(w, http.StatusNotFound, "slot not found")
		return
	}

	iccid := slot.ICCID()
	if iccid == "" {
		s.respondError(w, http.StatusConflict, "no card identity available for slot")
		return
	}

	if err := s.brands.Delete(r.Context(), iccid); err != nil {
		if err == storage.ErrNotFound {
			s.respondError(w, http.StatusNotFound, "no override for slot")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"iccid": iccid,
	})
}

// ========== Phone handlers ==========

// HandleGetPhoneState gets the telephony state of one phone
func (s *RESTServer) HandleGetPhoneState(w http.ResponseWriter, r *http.Request) {
	phoneID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid phone id")
		return
	}
	if phoneID < 0 || phoneID >= s.controller.PhoneCount() {
		s.respondError(w, http.StatusNotFound, "phone not found")
		return
	}

	state := s.publisher.PhoneState(phoneID)
	// The controller is authoritative; the publisher view may lag a beat.
	state.SimState = s.controller.SimStateForPhone(phoneID)

	s.respondJSON(w, http.StatusOK, state)
}

// HandleRefreshPhone re-queries the modem for one phone
func (s *RESTServer) HandleRefreshPhone(w http.ResponseWriter, r *http.Request) {
	phoneID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid phone id")
		return
	}
	if phoneID < 0 || phoneID >= s.controller.PhoneCount() {
		s.respondError(w, http.StatusNotFound, "phone not found")
		return
	}

	s.controller.RefreshCardStatus(phoneID)
	s.controller.RefreshSlotStatus()

	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"phoneId": phoneID,
	})
}

// ========== Event log handlers ==========

// HandleListEvents lists event log entries
func (s *RESTServer) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit == 0 {
		limit = 20
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	var filters storage.EventLogFilters
	if v := r.URL.Query().Get("phone_id"); v != "" {
		phoneID, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid phone_id filter")
			return
		}
		filters.PhoneID = &phoneID
	}
	if v := r.URL.Query().Get("slot"); v != "" {
		slotIndex, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid slot filter")
			return
		}
		filters.SlotIndex = &slotIndex
	}
	if v := r.URL.Query().Get("iccid"); v != "" {
		filters.ICCID = &v
	}
	if v := r.URL.Query().Get("type"); v != "" {
		eventType := models.EventType(v)
		filters.Type = &eventType
	}
	if v := r.URL.Query().Get("level"); v != "" {
		level := models.EventLevel(v)
		filters.Level = &level
	}

	events, total, err := s.store.ListEventLogs(ctx, filters, limit, offset)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"events": events,
	})
}

// ========== System handlers ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	})
}

// HandleRoot root handler
func (s *RESTServer) HandleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "UICC Server",
		"version": s.config.Server.Version,
		"health":  "/api/v1/health",
	})
}

// ========== Response helpers ==========

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
