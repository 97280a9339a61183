package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskprinter/internal/config"
	"taskprinter/internal/printer"
	"taskprinter/internal/recurrence"
	"taskprinter/internal/store"
)

type fakePrinter struct {
	mu      sync.Mutex
	tickets []printer.Ticket
	tests   int
	err     error
}

func (p *fakePrinter) Print(_ context.Context, t printer.Ticket) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tickets = append(p.tickets, t)
	return nil
}

func (p *fakePrinter) TestPage(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.tests++
	return nil
}

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) Notify() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

type fixture struct {
	srv      *Server
	handler  http.Handler
	store    *store.Store
	printer  *fakePrinter
	notifier *countingNotifier
}

var fixedNow = time.Date(2025, 8, 18, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "web.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultConfig()
	for _, m := range mutate {
		m(cfg)
	}
	f := &fixture{store: st, printer: &fakePrinter{}, notifier: &countingNotifier{}}
	f.srv = NewServer(cfg, Deps{
		Store:    st,
		Printer:  f.printer,
		Engine:   recurrence.NewEngine(recurrence.Config{}),
		Notifier: f.notifier,
		Now:      func() time.Time { return fixedNow },
	})
	f.handler = f.srv.Handler()
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type taskJSON struct {
	ID          int64      `json:"id"`
	UID         string     `json:"uid"`
	Title       string     `json:"title"`
	Category    string     `json:"category"`
	StartAt     time.Time  `json:"start_at"`
	Until       *time.Time `json:"until"`
	RRule       string     `json:"rrule"`
	AutoPrint   bool       `json:"auto_print"`
	IsActive    bool       `json:"is_active"`
	LastFiredAt *time.Time `json:"last_fired_at"`
	NextAt      *time.Time `json:"next_at"`
	Partial     bool       `json:"rule_partial"`
}

func (f *fixture) createTask(t *testing.T, body string) taskJSON {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/tasks", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[taskJSON](t, rec)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	h := decode[healthResponse](t, rec)
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, "192.168.2.34:9100", h.Printer)
	assert.Equal(t, "UTC", h.Timezone)
}

func TestBasicAuth(t *testing.T) {
	f := newFixture(t, func(c *config.Config) {
		c.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "pw"}
	})

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(t, http.MethodGet, "/api/tasks", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.SetBasicAuth("admin", "pw")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTaskLifecycle(t *testing.T) {
	f := newFixture(t)

	created := f.createTask(t, `{"title":"Feed cat","category":"kitchen","start_at":"2025-08-17T08:00:00Z","rrule":"FREQ=DAILY;INTERVAL=1"}`)
	assert.NotZero(t, created.ID)
	assert.NotEmpty(t, created.UID)
	assert.True(t, created.AutoPrint)
	assert.True(t, created.IsActive)
	require.NotNil(t, created.NextAt)
	assert.Equal(t, time.Date(2025, 8, 18, 8, 0, 0, 0, time.UTC), created.NextAt.UTC())
	assert.Equal(t, 1, f.notifier.n)

	rec := f.do(t, http.MethodGet, "/api/tasks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]taskJSON](t, rec), 1)

	rec = f.do(t, http.MethodPatch, "/api/tasks/1", `{"title":"Feed both cats","until":"2025-12-31"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[taskJSON](t, rec)
	assert.Equal(t, "Feed both cats", updated.Title)
	require.NotNil(t, updated.Until)
	assert.Equal(t, "FREQ=DAILY;INTERVAL=1", updated.RRule)

	rec = f.do(t, http.MethodPatch, "/api/tasks/1", `{"until":null}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decode[taskJSON](t, rec).Until)

	rec = f.do(t, http.MethodGet, "/api/tasks/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Feed both cats", decode[taskJSON](t, rec).Title)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/tasks/1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/tasks/1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/tasks/1", "").Code)
}

func TestCreateTask_Rejects(t *testing.T) {
	f := newFixture(t)
	for name, body := range map[string]string{
		"bad json":    `{`,
		"no title":    `{"start_at":"2025-08-17T08:00:00Z"}`,
		"bad time":    `{"title":"x","start_at":"tomorrow"}`,
		"bad rule":    `{"title":"x","start_at":"2025-08-17T08:00:00Z","rrule":"FREQ=BOGUS"}`,
		"until early": `{"title":"x","start_at":"2025-08-17T08:00:00Z","until":"2025-08-01"}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/tasks", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/tasks/abc", "").Code)
}

func TestCreateTask_LocalTimeUsesTimezone(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Timezone = "Europe/Amsterdam" })
	created := f.createTask(t, `{"title":"x","start_at":"2025-08-17T08:00"}`)
	assert.Equal(t, time.Date(2025, 8, 17, 6, 0, 0, 0, time.UTC), created.StartAt.UTC())
}

func TestCreateTask_PartialRuleFlagged(t *testing.T) {
	f := newFixture(t)
	created := f.createTask(t, `{"title":"x","start_at":"2025-08-17T08:00:00Z","rrule":"FREQ=WEEKLY;BYDAY=MO,TH"}`)
	assert.True(t, created.Partial)
}

func TestListTasks_Filters(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, `{"title":"Clean fridge","category":"kitchen","start_at":"2025-08-17T08:00:00Z"}`)
	f.createTask(t, `{"title":"Mow lawn","category":"garden","start_at":"2025-08-17T08:00:00Z","is_active":false}`)

	assert.Len(t, decode[[]taskJSON](t, f.do(t, http.MethodGet, "/api/tasks?category=garden", "")), 1)
	assert.Len(t, decode[[]taskJSON](t, f.do(t, http.MethodGet, "/api/tasks?q=FRIDGE", "")), 1)
	assert.Len(t, decode[[]taskJSON](t, f.do(t, http.MethodGet, "/api/tasks?active=1", "")), 1)
}

func TestPrintTask(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, `{"title":"Descale kettle","category":"kitchen","start_at":"2025-08-17T08:00:00Z"}`)

	rec := f.do(t, http.MethodPost, "/api/tasks/1/print", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.printer.tickets, 1)
	assert.Equal(t, "Descale kettle", f.printer.tickets[0].Title)
	assert.Equal(t, fixedNow, f.printer.tickets[0].When)

	task, err := f.store.GetTask(context.Background(), 1)
	require.NoError(t, err)
	assert.Nil(t, task.LastFiredAt, "manual print leaves the watermark alone")

	f.printer.err = errors.New("connection refused")
	assert.Equal(t, http.StatusBadGateway, f.do(t, http.MethodPost, "/api/tasks/1/print", "").Code)
	f.printer.err = printer.ErrDisabled
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodPost, "/api/tasks/1/print", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/tasks/9/print", "").Code)
}

func TestPrintTest(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/print-test", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.printer.tests)
	assert.Equal(t, "192.168.2.34:9100", decode[printTestResponse](t, rec).Target)
}

func TestBlackoutLifecycle(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/blackout-periods", `{"name":"Holiday","start_date":"2025-08-17","end_date":"2025-08-17"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	b := decode[struct {
		ID        int64     `json:"id"`
		StartDate time.Time `json:"start_date"`
		EndDate   time.Time `json:"end_date"`
		IsActive  bool      `json:"is_active"`
	}](t, rec)
	assert.True(t, b.IsActive)
	assert.Equal(t, time.Date(2025, 8, 17, 0, 0, 0, 0, time.UTC), b.StartDate.UTC())
	assert.Equal(t, time.Date(2025, 8, 17, 23, 59, 59, 0, time.UTC), b.EndDate.UTC())

	rec = f.do(t, http.MethodPatch, "/api/blackout-periods/1", `{"is_active":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/blackout-periods?active=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodPost, "/api/blackout-periods", `{"start_date":"2025-08-20","end_date":"2025-08-10"}`).Code)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodDelete, "/api/blackout-periods/1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPatch, "/api/blackout-periods/1", `{}`).Code)
}

func TestOccurrences(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, `{"title":"Feed cat","start_at":"2025-08-17T08:00:00Z","rrule":"FREQ=DAILY"}`)
	f.createTask(t, `{"title":"Odd","start_at":"2025-08-18T10:00:00Z","rrule":"FREQ=WEEKLY;BYDAY=MO"}`)
	rec := f.do(t, http.MethodPost, "/api/blackout-periods", `{"name":"Trip","start_date":"2025-08-19","end_date":"2025-08-19"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	_, err := f.store.AdvanceWatermark(context.Background(), 1, nil, time.Date(2025, 8, 17, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	rec = f.do(t, http.MethodGet, "/api/occurrences?days=3&backfill=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[occurrencesResponse](t, rec)

	// Window: Aug 17 00:00 through Aug 20 23:59:59.
	var daily []occurrenceDTO
	for _, o := range resp.Occurrences {
		if o.TaskID == 1 {
			daily = append(daily, o)
		}
	}
	require.Len(t, daily, 4)
	assert.Equal(t, "2025-08-17", daily[0].Date)
	assert.Equal(t, "task-1-0", daily[0].Key)
	assert.True(t, daily[0].Fired)
	assert.False(t, daily[1].Fired)
	assert.True(t, daily[2].Suppressed)
	assert.False(t, daily[3].Suppressed)
	assert.Equal(t, []int64{2}, resp.PartialTaskIDs)

	for i := 1; i < len(resp.Occurrences); i++ {
		assert.False(t, resp.Occurrences[i].Start.Before(resp.Occurrences[i-1].Start))
	}
}

func TestOccurrences_CacheDroppedOnWrite(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, `{"title":"a","start_at":"2025-08-18T12:00:00Z"}`)

	first := decode[occurrencesResponse](t, f.do(t, http.MethodGet, "/api/occurrences", ""))
	assert.Len(t, first.Occurrences, 1)

	f.createTask(t, `{"title":"b","start_at":"2025-08-18T13:00:00Z"}`)
	second := decode[occurrencesResponse](t, f.do(t, http.MethodGet, "/api/occurrences", ""))
	assert.Len(t, second.Occurrences, 2)
}

func TestExportImportRoundTrip(t *testing.T) {
	src := newFixture(t)
	src.createTask(t, `{"title":"Water plants","category":"garden","start_at":"2025-08-17T08:00:00Z","rrule":"FREQ=WEEKLY","auto_print":false}`)
	src.do(t, http.MethodPost, "/api/blackout-periods", `{"start_date":"2025-12-24","end_date":"2025-12-26"}`)

	rec := src.do(t, http.MethodGet, "/api/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "taskprinter-20250818.json")
	doc := rec.Body.String()
	assert.Contains(t, doc, `"blackout_periods"`)

	dst := newFixture(t)
	rec = dst.do(t, http.MethodPost, "/api/import", doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[importResponse](t, rec).Count)

	tasks := decode[[]taskJSON](t, dst.do(t, http.MethodGet, "/api/tasks", ""))
	require.Len(t, tasks, 1)
	assert.Equal(t, "Water plants", tasks[0].Title)
	assert.False(t, tasks[0].AutoPrint)
	assert.Equal(t, "FREQ=WEEKLY", tasks[0].RRule)

	// Importing the same document again updates by uid instead of duplicating.
	require.Equal(t, http.StatusOK, dst.do(t, http.MethodPost, "/api/import", doc).Code)
	assert.Len(t, decode[[]taskJSON](t, dst.do(t, http.MethodGet, "/api/tasks", "")), 1)
}

func TestImport_RejectsInvalidTask(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/import", `{"tasks":[{"title":"ok","start_at":"2025-08-17"},{"title":""}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "task 1")
}

func TestCalendarFeedAndICSImport(t *testing.T) {
	f := newFixture(t)
	f.createTask(t, `{"title":"Take out bins","start_at":"2025-08-18T19:00:00Z","rrule":"FREQ=WEEKLY;BYDAY=MO"}`)

	rec := f.do(t, http.MethodGet, "/calendar.ics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	feed := rec.Body.String()
	assert.Contains(t, feed, "SUMMARY:Take out bins")
	assert.Contains(t, feed, "FREQ=WEEKLY")
	assert.NotContains(t, feed, "BYDAY")

	dst := newFixture(t)
	rec = dst.do(t, http.MethodPost, "/api/import.ics", feed)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[importResponse](t, rec).Count)
	tasks := decode[[]taskJSON](t, dst.do(t, http.MethodGet, "/api/tasks", ""))
	require.Len(t, tasks, 1)
	assert.Equal(t, "Take out bins", tasks[0].Title)

	assert.Equal(t, http.StatusBadRequest, dst.do(t, http.MethodPost, "/api/import.ics", "not a calendar").Code)
}

func TestICSImportFromURL(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//Test//EN\r\nBEGIN:VEVENT\r\nUID:r@test\r\nSUMMARY:Remote chore\r\nDTSTART:20250820T070000Z\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n"))
	}))
	defer remote.Close()

	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/api/import.ics?url="+remote.URL+"/feed.ics", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 1, decode[importResponse](t, rec).Count)

	rec = f.do(t, http.MethodPost, "/api/import.ics?url=gopher://x", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
