package web

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"taskprinter/internal/dispatch"
	appLog "taskprinter/internal/log"
	"taskprinter/internal/model"
	"taskprinter/internal/printer"
	"taskprinter/internal/recurrence"
	"taskprinter/internal/store"
)

// taskPayload is the body of POST and PATCH /api/tasks. Absent fields are
// left unchanged on PATCH; "until": null clears the bound.
type taskPayload struct {
	UID         *string         `json:"uid"`
	Title       *string         `json:"title"`
	Description *string         `json:"description"`
	Category    *string         `json:"category"`
	StartAt     *string         `json:"start_at"`
	Until       json.RawMessage `json:"until"`
	RRule       *string         `json:"rrule"`
	AutoPrint   *bool           `json:"auto_print"`
	IsActive    *bool           `json:"is_active"`
}

// taskView is a task plus its next scheduled occurrence.
type taskView struct {
	*model.Task
	NextAt   *time.Time `json:"next_at"`
	Partial  bool       `json:"rule_partial,omitempty"`
	RuleNote string     `json:"rule_error,omitempty"`
}

var timeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// parseTime accepts RFC 3339 or a zone-less date/time read in loc.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", s)
}

// apply copies the present fields of p onto t.
func (p *taskPayload) apply(t *model.Task, loc *time.Location) error {
	if p.UID != nil {
		t.UID = strings.TrimSpace(*p.UID)
	}
	if p.Title != nil {
		t.Title = strings.TrimSpace(*p.Title)
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Category != nil {
		t.Category = strings.TrimSpace(*p.Category)
	}
	if p.StartAt != nil {
		start, err := parseTime(*p.StartAt, loc)
		if err != nil {
			return fmt.Errorf("start_at: %w", err)
		}
		t.StartAt = start
	}
	if len(p.Until) > 0 {
		if bytes.Equal(bytes.TrimSpace(p.Until), []byte("null")) {
			t.Until = nil
		} else {
			var raw string
			if err := json.Unmarshal(p.Until, &raw); err != nil {
				return errors.New("until: must be a string or null")
			}
			if strings.TrimSpace(raw) == "" {
				t.Until = nil
			} else {
				until, err := parseTime(raw, loc)
				if err != nil {
					return fmt.Errorf("until: %w", err)
				}
				t.Until = &until
			}
		}
	}
	if p.RRule != nil {
		t.RRule = strings.TrimSpace(*p.RRule)
	}
	if p.AutoPrint != nil {
		t.AutoPrint = *p.AutoPrint
	}
	if p.IsActive != nil {
		t.IsActive = *p.IsActive
	}
	return nil
}

// validateRule rejects rules the engine cannot parse at all. Stored data
// that bypassed this check still degrades to a single occurrence.
func validateRule(t *model.Task) error {
	if t.RRule == "" {
		return nil
	}
	if _, err := recurrence.ParseRule(t.RRule); err != nil {
		return fmt.Errorf("rrule: %w", err)
	}
	return nil
}

func (s *Server) view(t *model.Task) taskView {
	v := taskView{Task: t}
	series, rule, err := s.engine.Series(t)
	if err != nil {
		v.RuleNote = err.Error()
	}
	if rule != nil {
		v.Partial = rule.Partial()
	}
	if next, ok := series.After(s.now()); ok {
		at := next.At
		v.NextAt = &at
	}
	return v
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context(), r.URL.Query().Get("active") == "1")
	if err != nil {
		writeStoreError(w, err, "tasks")
		return
	}

	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	category := r.URL.Query().Get("category")

	out := make([]taskView, 0, len(tasks))
	for _, t := range tasks {
		if category != "" && t.Category != category {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(t.Title+" "+t.Description), q) {
			continue
		}
		out = append(out, s.view(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var p taskPayload
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	t := &model.Task{AutoPrint: true, IsActive: true}
	if err := p.apply(t, s.loc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateRule(t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := store.ValidateTask(t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.CreateTask(r.Context(), t); err != nil {
		writeStoreError(w, err, "task")
		return
	}

	appLog.Info("task created", "task_id", t.ID, "title", t.Title, "rrule", t.RRule)
	s.changed()
	writeJSON(w, http.StatusCreated, s.view(t))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "task")
		return
	}
	writeJSON(w, http.StatusOK, s.view(t))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var p taskPayload
	if err := decodeJSON(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	t, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "task")
		return
	}
	if err := p.apply(t, s.loc); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := validateRule(t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := store.ValidateTask(t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.UpdateTask(r.Context(), t); err != nil {
		writeStoreError(w, err, "task")
		return
	}

	appLog.Info("task updated", "task_id", t.ID)
	s.changed()
	writeJSON(w, http.StatusOK, s.view(t))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.store.DeleteTask(r.Context(), id); err != nil {
		writeStoreError(w, err, "task")
		return
	}
	appLog.Info("task deleted", "task_id", id)
	s.changed()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// handlePrintTask prints a ticket for a task right now. The watermark is
// not touched.
func (s *Server) handlePrintTask(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeStoreError(w, err, "task")
		return
	}

	if err := s.printer.Print(r.Context(), dispatch.TicketFor(t, s.now(), s.loc)); err != nil {
		s.writePrintError(w, err)
		return
	}
	appLog.Info("manual print", "task_id", t.ID, "title", t.Title)
	writeJSON(w, http.StatusOK, map[string]bool{"printed": true})
}

func (s *Server) writePrintError(w http.ResponseWriter, err error) {
	if errors.Is(err, printer.ErrDisabled) {
		writeError(w, http.StatusServiceUnavailable, "printer is disabled")
		return
	}
	appLog.Error("print failed", err)
	writeError(w, http.StatusBadGateway, "printer unreachable: "+err.Error())
}
