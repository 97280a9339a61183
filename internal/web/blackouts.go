package web

import (
	"net/http"
	"strings"
	"time"

	appLog "taskprinter/internal/log"
	"taskprinter/internal/model"
	"taskprinter/internal/store"
)

type blackoutPayload struct {
	Name      *string `json:"name"`
	StartDate *string `json:"start_date"`
	EndDate   *string `json:"end_date"`
	IsActive  *bool   `json:"is_active"`
}

// isDateOnly reports whether s is a bare calendar date.
func isDateOnly(s string) bool {
	_, err := time.Parse("2006-01-02", strings.TrimSpace(s))
	return err == nil
}

// apply copies present fields onto b. A date-only end covers the whole
// day: the period is inclusive at both ends.
func (p *blackoutPayload) apply(b *model.BlackoutPeriod, loc *time.Location) error {
	if p.Name != nil {
		b.Name = strings.TrimSpace(*p.Name)
	}
	if p.StartDate != nil {
		t, err := parseTime(*p.StartDate, loc)
		if err != nil {
			return err
		}
		b.StartDate = t
	}
	if p.EndDate != nil {
		t, err := parseTime(*p.EndDate, loc)
		if err != nil {
			return err
		}
		if isDateOnly(*p.EndDate) {
			t = t.In(loc).AddDate(0, 0, 1).Add(-time.Second).UTC()
		}
		b.EndDate = t
	}
	if p.IsActive != nil {
		b.IsActive = *p.IsActive
	}
	return nil
}

func (s *Server) handleListBlackouts(w http.ResponseWriter, r *http.Request) {
	periods, err := s.store.ListBlackouts(r.Context(), r.URL.Query().Get("active") == "1")
	if err != nil {
		writeStoreError(w, err, "blackout periods")
		return
	}
	if periods == nil {
		periods = []model.BlackoutPeriod{}
	}
	writeJSON(w, http.StatusOK, periods)
}

func (s *Server) handleCreateBlackout(w http.ResponseWriter, r *http.Request) {
	var p blackoutPayload
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	b := &model.BlackoutPeriod{IsActive: true}
	if err := p.apply(b, s.loc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := store.ValidateBlackout(b); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.CreateBlackout(r.Context(), b); err != nil {
		writeStoreError(w, err, "blackout period")
		return
	}

	appLog.Info("blackout period created", "id", b.ID, "name", b.Name, "start", b.StartDate, "end", b.EndDate)
	s.changed()
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleUpdateBlackout(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var p blackoutPayload
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	b, err := s.store.GetBlackout(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "blackout period")
		return
	}
	if err := p.apply(b, s.loc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := store.ValidateBlackout(b); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpdateBlackout(r.Context(), b); err != nil {
		writeStoreError(w, err, "blackout period")
		return
	}

	appLog.Info("blackout period updated", "id", b.ID, "active", b.IsActive)
	s.changed()
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBlackout(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.DeleteBlackout(r.Context(), id); err != nil {
		writeStoreError(w, err, "blackout period")
		return
	}
	appLog.Info("blackout period deleted", "id", id)
	s.changed()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
