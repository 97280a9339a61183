package web

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"taskprinter/internal/ics"
	appLog "taskprinter/internal/log"
	"taskprinter/internal/model"
	"taskprinter/internal/store"
)

const exportVersion = 1

// exportDocument is the JSON backup format of GET /api/export.
type exportDocument struct {
	Version         int                    `json:"version"`
	ExportedAt      time.Time              `json:"exported_at"`
	Tasks           []*model.Task          `json:"tasks"`
	BlackoutPeriods []model.BlackoutPeriod `json:"blackout_periods"`
}

// importRequest is the body of POST /api/import. An export document is
// accepted as is; blackout periods in it are ignored.
type importRequest struct {
	Tasks []taskPayload `json:"tasks"`
	// Replace deletes every existing task first.
	Replace bool `json:"replace"`
}

type importResponse struct {
	Count   int      `json:"count"`
	Skipped []string `json:"skipped,omitempty"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context(), false)
	if err != nil {
		writeStoreError(w, err, "tasks")
		return
	}
	periods, err := s.store.ListBlackouts(r.Context(), false)
	if err != nil {
		writeStoreError(w, err, "blackout periods")
		return
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}
	if periods == nil {
		periods = []model.BlackoutPeriod{}
	}

	now := s.now()
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="taskprinter-%s.json"`, now.In(s.loc).Format("20060102")))
	writeJSON(w, http.StatusOK, exportDocument{
		Version:         exportVersion,
		ExportedAt:      now.UTC(),
		Tasks:           tasks,
		BlackoutPeriods: periods,
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	tasks := make([]*model.Task, 0, len(req.Tasks))
	for i := range req.Tasks {
		t := &model.Task{AutoPrint: true, IsActive: true}
		if err := req.Tasks[i].apply(t, s.loc); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("task %d: %v", i, err))
			return
		}
		if err := store.ValidateTask(t); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("task %d: %v", i, err))
			return
		}
		tasks = append(tasks, t)
	}

	s.importTasks(w, r, tasks, req.Replace, nil)
}

// handleImportICS imports VEVENTs as tasks. The calendar is the request
// body, or is downloaded from the url query parameter.
func (s *Server) handleImportICS(w http.ResponseWriter, r *http.Request) {
	var (
		body []byte
		err  error
	)
	if u := r.URL.Query().Get("url"); u != "" {
		body, err = s.fetcher.Fetch(r.Context(), u)
		if err != nil {
			appLog.Error("ics import fetch failed", err)
			writeError(w, http.StatusBadGateway, "fetching calendar: "+err.Error())
			return
		}
	} else {
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
		if err != nil {
			writeError(w, http.StatusBadRequest, "reading body: "+err.Error())
			return
		}
	}

	res, err := ics.ParseTasks(body, s.loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid calendar: "+err.Error())
		return
	}
	skipped := make([]string, 0, len(res.Skipped))
	for _, e := range res.Skipped {
		skipped = append(skipped, e.Error())
	}
	s.importTasks(w, r, res.Tasks, r.URL.Query().Get("replace") == "1", skipped)
}

func (s *Server) importTasks(w http.ResponseWriter, r *http.Request, tasks []*model.Task, replace bool, skipped []string) {
	n, err := s.store.ImportTasks(r.Context(), tasks, replace)
	if err != nil {
		writeStoreError(w, err, "import")
		return
	}
	appLog.Info("tasks imported", "count", n, "replace", replace, "skipped", len(skipped))
	s.changed()
	writeJSON(w, http.StatusOK, importResponse{Count: n, Skipped: skipped})
}

// handleCalendar serves every task as a subscribable iCalendar feed.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.store.ListTasks(r.Context(), false)
	if err != nil {
		writeStoreError(w, err, "tasks")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ics.ExportCalendar(tasks, s.engine, s.now()))
}

type printTestResponse struct {
	Message string `json:"message"`
	Target  string `json:"target"`
}

// handlePrintTest sends a test page to the configured printer.
func (s *Server) handlePrintTest(w http.ResponseWriter, r *http.Request) {
	if err := s.printer.TestPage(r.Context()); err != nil {
		s.writePrintError(w, err)
		return
	}
	target := fmt.Sprintf("%s:%d", s.cfg.Printer.Host, s.cfg.Printer.Port)
	appLog.Info("test print sent", "target", target)
	writeJSON(w, http.StatusOK, printTestResponse{Message: "Test print sent", Target: target})
}
