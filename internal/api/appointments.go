package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"agenda/internal/audit"
	"agenda/internal/booking"
	"agenda/internal/model"
	"agenda/internal/slots"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// SlotsResponse is the body of GET /providers/{providerID}/slots.
type SlotsResponse struct {
	ProviderID string           `json:"provider_id"`
	Date       string           `json:"date"`
	Slots      []slots.TimeSlot `json:"slots"`
}

// BookingRequest is the body of POST /providers/{providerID}/bookings.
type BookingRequest struct {
	Date         string              `json:"date"`
	Time         string              `json:"time"`
	ServiceRef   string              `json:"service_ref,omitempty"`
	Notes        string              `json:"notes,omitempty"`
	Client       booking.ClientInfo  `json:"client"`
	Participants []model.Participant `json:"participants,omitempty"`
}

// BookingResponse is returned for a committed booking.
type BookingResponse struct {
	Appointment       model.ClientView `json:"appointment"`
	NotificationError string           `json:"notification_error,omitempty"`
}

// StatusRequest is the body of PATCH /appointments/{appointmentID}/status.
type StatusRequest struct {
	Status model.Status `json:"status"`
}

func providerID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "providerID"))
}

func requiredQuery(r *http.Request, name string) (string, error) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return "", fmt.Errorf("%w: query parameter %q is required", model.ErrInvalidInput, name)
	}
	return v, nil
}

func (h *handler) getSlots(w http.ResponseWriter, r *http.Request) {
	date, err := requiredQuery(r, "date")
	if err != nil {
		writeErr(w, r, err)
		return
	}

	list, err := h.cfg.Slots.Slots(r.Context(), providerID(r), date)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SlotsResponse{ProviderID: providerID(r), Date: date, Slots: list})
}

// ProviderSummary is the public part of a provider.
type ProviderSummary struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (h *handler) listProviders(w http.ResponseWriter, r *http.Request) {
	list, err := h.cfg.Providers.ListProviders(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	out := make([]ProviderSummary, 0, len(list))
	for _, p := range list {
		out = append(out, ProviderSummary{ID: p.ID, Name: p.Name})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) getWeekdays(w http.ResponseWriter, r *http.Request) {
	days, err := h.cfg.Slots.Weekdays(r.Context(), providerID(r))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"provider_id": providerID(r), "weekdays": days})
}

func (h *handler) createBooking(w http.ResponseWriter, r *http.Request) {
	var req BookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}

	res, err := h.cfg.Booker.Book(r.Context(), booking.Request{
		ProviderID:   providerID(r),
		Date:         req.Date,
		Time:         req.Time,
		ServiceRef:   req.ServiceRef,
		Notes:        req.Notes,
		Client:       req.Client,
		Participants: req.Participants,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, bookingResponse(res))
}

func bookingResponse(res *booking.Result) BookingResponse {
	out := BookingResponse{Appointment: res.Appointment.AsClientView()}
	if res.NotificationErr != nil {
		out.NotificationError = res.NotificationErr.Error()
	}
	return out
}

func (h *handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	date, err := requiredQuery(r, "date")
	if err != nil {
		writeErr(w, r, err)
		return
	}

	views, err := h.cfg.Manager.ListDay(r.Context(), providerID(r), date)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"date": date, "appointments": views})
}

func (h *handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	a, err := h.cfg.Manager.Appointment(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.AsProviderView())
}

func (h *handler) getHistory(w http.ResponseWriter, r *http.Request) {
	events, err := h.cfg.Manager.History(r.Context(), chi.URLParam(r, "appointmentID"))
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *handler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeErr(w, r, err)
		return
	}

	a, err := h.cfg.Manager.ChangeStatus(r.Context(), chi.URLParam(r, "appointmentID"), req.Status)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.AsProviderView())
}

func (h *handler) exportMonth(w http.ResponseWriter, r *http.Request) {
	month, err := requiredQuery(r, "month")
	if err != nil {
		writeErr(w, r, err)
		return
	}

	var buf bytes.Buffer
	n, err := h.cfg.Exporter.WriteMonth(r.Context(), &buf, providerID(r), month)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	zerolog.Ctx(r.Context()).Info().
		Str("provider_id", providerID(r)).
		Str("month", month).
		Int("appointments", n).
		Msg("monthly export generated")

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", audit.Filename(providerID(r), month)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
