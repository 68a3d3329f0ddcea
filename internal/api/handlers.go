package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tolka/internal/database"
	"tolka/internal/domain"
	"tolka/internal/models"
	"tolka/internal/service"
)

// BookingHandler is the slice of the booking service the API needs.
type BookingHandler interface {
	GetBooking(ctx context.Context, id int64) (*service.BookingView, error)
	UpdateBooking(ctx context.Context, id int64, req models.UpdateRequest, actor *models.User) (*service.BookingView, error)
	GetHistory(ctx context.Context, bookingID int64) ([]*models.AuditRecord, error)
	GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error)
	ReopenBooking(ctx context.Context, id int64, actor *models.User) (*service.BookingView, error)
	ResendNotifications(ctx context.Context, id int64) error
	SaveDistanceFeed(ctx context.Context, feed *models.DistanceFeed) error
}

type ExportHandler interface {
	BookingsReport(ctx context.Context, startDate, endDate time.Time) (string, error)
}

func (s *HTTPServer) handleBookingsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	start, end, ok := parseDateRange(w, r)
	if !ok {
		return
	}

	bookings, err := s.bookings.GetBookingsByDateRange(r.Context(), start, end)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleBooking(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/bookings/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.SplitN(rest, "/", 2)

	id, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	action := ""
	if len(parts) == 2 {
		action = strings.TrimSuffix(parts[1], "/")
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.getBooking(w, r, id)
	case action == "" && r.Method == http.MethodPut:
		s.updateBooking(w, r, id)
	case action == "history" && r.Method == http.MethodGet:
		s.getHistory(w, r, id)
	case action == "reopen" && r.Method == http.MethodPost:
		s.reopenBooking(w, r, id)
	case action == "resend-notifications" && r.Method == http.MethodPost:
		s.resendNotifications(w, r, id)
	case action == "distance-feed" && r.Method == http.MethodPost:
		s.saveDistanceFeed(w, r, id)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *HTTPServer) getBooking(w http.ResponseWriter, r *http.Request, id int64) {
	view, err := s.bookings.GetBooking(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) updateBooking(w http.ResponseWriter, r *http.Request, id int64) {
	var req models.UpdateRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	view, err := s.bookings.UpdateBooking(r.Context(), id, req, actorFromRequest(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) getHistory(w http.ResponseWriter, r *http.Request, id int64) {
	records, err := s.bookings.GetHistory(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

func (s *HTTPServer) reopenBooking(w http.ResponseWriter, r *http.Request, id int64) {
	view, err := s.bookings.ReopenBooking(r.Context(), id, actorFromRequest(r))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) resendNotifications(w http.ResponseWriter, r *http.Request, id int64) {
	if err := s.bookings.ResendNotifications(r.Context(), id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *HTTPServer) saveDistanceFeed(w http.ResponseWriter, r *http.Request, id int64) {
	var feed models.DistanceFeed
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&feed); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	feed.BookingID = id

	if err := s.bookings.SaveDistanceFeed(r.Context(), &feed); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusNotImplemented, "exports are not configured")
		return
	}

	start, end, ok := parseDateRange(w, r)
	if !ok {
		return
	}

	filePath, err := s.exporter.BookingsReport(r.Context(), start, end)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", "attachment; filename="+filepath.Base(filePath))
	http.ServeFile(w, r, filePath)
}

func parseDateRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	startStr := strings.TrimSpace(r.URL.Query().Get("start"))
	endStr := strings.TrimSpace(r.URL.Query().Get("end"))
	if startStr == "" || endStr == "" {
		writeError(w, http.StatusBadRequest, "start and end are required")
		return time.Time{}, time.Time{}, false
	}

	start, err := time.Parse("2006-01-02", startStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start date; expected YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse("2006-01-02", endStr)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end date; expected YYYY-MM-DD")
		return time.Time{}, time.Time{}, false
	}
	if end.Before(start) {
		writeError(w, http.StatusBadRequest, "end must not be before start")
		return time.Time{}, time.Time{}, false
	}
	return start, end.Add(24*time.Hour - time.Nanosecond), true
}

// actorFromRequest picks the acting admin's id from the header the
// admin frontend sets. Missing or malformed means unattributed.
func actorFromRequest(r *http.Request) *models.User {
	raw := strings.TrimSpace(r.Header.Get("X-Actor-Id"))
	if raw == "" {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &models.User{ID: id}
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.Is(err, database.ErrBookingNotFound),
		errors.Is(err, database.ErrUserNotFound),
		errors.Is(err, database.ErrAssignmentNotFound),
		errors.Is(err, os.ErrNotExist):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, verr.Error())
	case errors.Is(err, database.ErrConcurrentModification):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error().Err(err).Msg("internal api error")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
