package api

import (
	"fmt"
	"net/http"

	"agenda/internal/booking"
	"agenda/internal/model"
	"agenda/internal/wizard"

	"github.com/go-chi/chi/v5"
)

// SessionResponse describes a booking wizard.
type SessionResponse struct {
	ID          string            `json:"id"`
	State       wizard.State      `json:"state"`
	Data        wizard.Data       `json:"data"`
	Appointment *model.ClientView `json:"appointment,omitempty"`
}

// IdentityRequest is the body of POST /sessions/{sessionID}/identity.
type IdentityRequest struct {
	Client         booking.ClientInfo  `json:"client"`
	Notes          string              `json:"notes,omitempty"`
	NumberOfPeople int                 `json:"number_of_people,omitempty"`
	Participants   []model.Participant `json:"participants,omitempty"`
}

func sessionView(w *wizard.Wizard) SessionResponse {
	state, data := w.Snapshot()
	out := SessionResponse{ID: w.ID(), State: state, Data: data}
	if data.Result != nil {
		v := data.Result.Appointment.AsClientView()
		out.Appointment = &v
	}
	return out
}

func (h *handler) session(w http.ResponseWriter, r *http.Request) (*wizard.Wizard, bool) {
	id := chi.URLParam(r, "sessionID")
	wz, ok := h.cfg.Sessions.Get(id)
	if !ok {
		writeErr(w, r, fmt.Errorf("session %s: %w", id, model.ErrNotFound))
		return nil, false
	}
	return wz, true
}

// respondSession writes the wizard state, or err with the status it maps to.
func respondSession(w http.ResponseWriter, r *http.Request, wz *wizard.Wizard, err error) {
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView(wz))
}

func (h *handler) createSession(w http.ResponseWriter, r *http.Request) {
	pid := providerID(r)
	if pid == "" {
		writeError(w, http.StatusBadRequest, "provider id is required")
		return
	}
	wz := h.cfg.Sessions.Create(pid)
	writeJSON(w, http.StatusCreated, sessionView(wz))
}

func (h *handler) getSession(w http.ResponseWriter, r *http.Request) {
	if wz, ok := h.session(w, r); ok {
		respondSession(w, r, wz, nil)
	}
}

func (h *handler) deleteSession(w http.ResponseWriter, r *http.Request) {
	h.cfg.Sessions.Delete(chi.URLParam(r, "sessionID"))
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) sessionService(w http.ResponseWriter, r *http.Request) {
	wz, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		ServiceRef string `json:"service_ref"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	respondSession(w, r, wz, wz.SelectService(req.ServiceRef))
}

func (h *handler) sessionIdentity(w http.ResponseWriter, r *http.Request) {
	wz, ok := h.session(w, r)
	if !ok {
		return
	}
	var req IdentityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}

	n := req.NumberOfPeople
	if n == 0 {
		n = len(req.Participants) + 1
	}
	err := wz.SetIdentity(req.Client, req.Notes)
	if err == nil {
		err = wz.SetNumberOfPeople(n)
	}
	for i := 0; err == nil && i < len(req.Participants) && i < n-1; i++ {
		err = wz.SetParticipant(i, req.Participants[i])
	}
	respondSession(w, r, wz, err)
}

func (h *handler) sessionDate(w http.ResponseWriter, r *http.Request) {
	wz, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Date string `json:"date"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	respondSession(w, r, wz, wz.SelectDate(r.Context(), req.Date))
}

func (h *handler) sessionTime(w http.ResponseWriter, r *http.Request) {
	wz, ok := h.session(w, r)
	if !ok {
		return
	}
	var req struct {
		Time string `json:"time"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}
	respondSession(w, r, wz, wz.SelectTime(req.Time))
}

func (h *handler) sessionNext(w http.ResponseWriter, r *http.Request) {
	if wz, ok := h.session(w, r); ok {
		respondSession(w, r, wz, wz.Next())
	}
}

func (h *handler) sessionBack(w http.ResponseWriter, r *http.Request) {
	if wz, ok := h.session(w, r); ok {
		respondSession(w, r, wz, wz.Back())
	}
}

func (h *handler) sessionRestart(w http.ResponseWriter, r *http.Request) {
	if wz, ok := h.session(w, r); ok {
		wz.Restart()
		respondSession(w, r, wz, nil)
	}
}

func (h *handler) sessionConfirm(w http.ResponseWriter, r *http.Request) {
	wz, ok := h.session(w, r)
	if !ok {
		return
	}
	if _, err := wz.Confirm(r.Context()); err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionView(wz))
}
