package web

import (
	"cmp"
	"net/http"
	"slices"
	"strconv"
	"time"

	appLog "taskprinter/internal/log"
	"taskprinter/internal/recurrence"
)

const occurrencesCacheTTL = 30 * time.Second

// occurrencesResponse is the JSON response shape for /api/occurrences.
type occurrencesResponse struct {
	Occurrences      []occurrenceDTO `json:"occurrences"`
	TruncatedTaskIDs []int64         `json:"truncated_task_ids,omitempty"`
	PartialTaskIDs   []int64         `json:"partial_task_ids,omitempty"`
	InvalidTaskIDs   []int64         `json:"invalid_task_ids,omitempty"`
	RangeStart       time.Time       `json:"range_start"`
	RangeEnd         time.Time       `json:"range_end"`
	DisplayTimeZone  string          `json:"display_timezone"`
}

// occurrencesCache holds a cached response and its timestamp.
type occurrencesCache struct {
	resp      occurrencesResponse
	updatedAt time.Time
}

// occurrenceDTO is a JSON-friendly view of one scheduled occurrence.
type occurrenceDTO struct {
	Key      string    `json:"key"`
	TaskID   int64     `json:"task_id"`
	Index    int       `json:"index"`
	Title    string    `json:"title"`
	Category string    `json:"category"`
	Start    time.Time `json:"start"`
	// Date is the calendar day in the display zone, e.g. "2025-08-17".
	Date string `json:"date"`
	// Suppressed marks occurrences inside an active blackout period.
	Suppressed bool `json:"suppressed"`
	// Fired marks occurrences at or before the task's watermark.
	Fired    bool `json:"fired"`
	Inactive bool `json:"inactive"`
}

// handleOccurrences returns the scheduled occurrences of every task within
// a window of whole days around today.
//
// GET /api/occurrences?days=7&backfill=1&task_id=3
//   - days:     days ahead including today (default 7)
//   - backfill: past days to include (default 1)
//   - task_id:  restrict to one task
func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	q := r.URL.Query()
	days := parseIntDefault(q.Get("days"), 7)
	if days <= 0 {
		days = 7
	}
	backfill := parseIntDefault(q.Get("backfill"), 1)
	if backfill < 0 {
		backfill = 0
	}
	var onlyTask int64
	if v := q.Get("task_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid task_id")
			return
		}
		onlyTask = id
	}

	cacheKey := r.URL.RawQuery
	s.occMu.RLock()
	oc, ok := s.occCache[cacheKey]
	s.occMu.RUnlock()
	if ok && time.Since(oc.updatedAt) < occurrencesCacheTTL {
		writeJSON(w, http.StatusOK, oc.resp)
		return
	}

	now := s.now().In(s.loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, s.loc)
	rangeStart := today.AddDate(0, 0, -backfill)
	rangeEnd := today.AddDate(0, 0, days).Add(-time.Nanosecond)

	tasks, err := s.store.ListTasks(ctx, false)
	if err != nil {
		writeStoreError(w, err, "tasks")
		return
	}
	periods, err := s.store.ListBlackouts(ctx, true)
	if err != nil {
		writeStoreError(w, err, "blackout periods")
		return
	}
	blackouts := recurrence.NewBlackoutIndex(periods)

	resp := occurrencesResponse{
		Occurrences:     []occurrenceDTO{},
		RangeStart:      rangeStart,
		RangeEnd:        rangeEnd,
		DisplayTimeZone: s.loc.String(),
	}

	for _, t := range tasks {
		if onlyTask != 0 && t.ID != onlyTask {
			continue
		}
		exp := s.engine.Window(t, rangeStart, rangeEnd)
		if exp.Truncated {
			resp.TruncatedTaskIDs = append(resp.TruncatedTaskIDs, t.ID)
		}
		if exp.Partial {
			resp.PartialTaskIDs = append(resp.PartialTaskIDs, t.ID)
		}
		if exp.RuleErr != nil {
			resp.InvalidTaskIDs = append(resp.InvalidTaskIDs, t.ID)
		}
		for _, occ := range exp.Occurrences {
			local := occ.At.In(s.loc)
			resp.Occurrences = append(resp.Occurrences, occurrenceDTO{
				Key:        occ.Key(t.ID),
				TaskID:     t.ID,
				Index:      occ.Index,
				Title:      t.Title,
				Category:   t.Category,
				Start:      local,
				Date:       local.Format(time.DateOnly),
				Suppressed: blackouts.Suppressed(occ.At),
				Fired:      t.LastFiredAt != nil && !occ.At.After(*t.LastFiredAt),
				Inactive:   !t.IsActive,
			})
		}
	}

	slices.SortStableFunc(resp.Occurrences, func(a, b occurrenceDTO) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.TaskID, b.TaskID)
	})

	appLog.Debug("api occurrences request",
		"days", days,
		"backfill", backfill,
		"range_start", rangeStart.Format(time.RFC3339),
		"range_end", rangeEnd.Format(time.RFC3339),
		"count", len(resp.Occurrences),
	)

	s.occMu.Lock()
	s.occCache[cacheKey] = occurrencesCache{resp: resp, updatedAt: time.Now()}
	s.occMu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}
