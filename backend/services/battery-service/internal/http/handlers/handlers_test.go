package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"batterymon/backend/services/battery-service/internal/ingest"
	"batterymon/backend/services/battery-service/internal/models"
	redisstore "batterymon/backend/services/battery-service/internal/redis"
	"batterymon/backend/services/battery-service/internal/service"
)

type fakeSnapshots struct {
	saved   *models.Snapshot
	saveErr error
	page    *service.SnapshotPage
	listErr error
	params  service.ListParams
}

func (f *fakeSnapshots) Save(context.Context) (*models.Snapshot, error) {
	return f.saved, f.saveErr
}

func (f *fakeSnapshots) List(_ context.Context, p service.ListParams) (*service.SnapshotPage, error) {
	f.params = p
	return f.page, f.listErr
}

type fakeDPLog struct {
	limit int
	rows  []models.DPLogEntry
	err   error
}

func (f *fakeDPLog) Recent(_ context.Context, limit int) ([]models.DPLogEntry, error) {
	f.limit = limit
	return f.rows, f.err
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(target); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func TestSaveReturnsSnapshot(t *testing.T) {
	level := 7.0
	created := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	h := NewSnapshotHandlers(&fakeSnapshots{saved: &models.Snapshot{ID: 1, SpecificGravity: 1.042, Level: &level, CreatedAt: created}}, zap.NewNop())

	rec := httptest.NewRecorder()
	h.Save(rec, httptest.NewRequest(http.MethodPost, "/dp/save", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	decodeBody(t, rec, &body)
	if body["id"] != float64(1) || body["dp_pa"] != 1.042 || body["level"] != float64(7) {
		t.Fatalf("body = %v", body)
	}
	if body["created_at"] != created.Format(time.RFC3339) {
		t.Fatalf("created_at = %v", body["created_at"])
	}
}

func TestSaveStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{service.ErrNoReading, http.StatusBadRequest},
		{fmt.Errorf("save snapshot: %w", errors.New("connection reset")), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		h := NewSnapshotHandlers(&fakeSnapshots{saveErr: tc.err}, zap.NewNop())
		rec := httptest.NewRecorder()
		h.Save(rec, httptest.NewRequest(http.MethodPost, "/dp/save", nil))
		if rec.Code != tc.want {
			t.Fatalf("err %v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
		var body map[string]string
		decodeBody(t, rec, &body)
		if body["error"] == "" {
			t.Fatal("missing error description")
		}
	}
}

func TestListParsesQuery(t *testing.T) {
	fake := &fakeSnapshots{page: &service.SnapshotPage{Data: []models.Snapshot{}, Page: 2, PerPage: 5}}
	h := NewSnapshotHandlers(fake, zap.NewNop())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/dp/saved?page=2&per_page=5&order=asc&date=2024-05-01", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	want := service.ListParams{Page: 2, PerPage: 5, Order: "asc", Date: "2024-05-01"}
	if fake.params != want {
		t.Fatalf("params = %+v", fake.params)
	}
	var body map[string]interface{}
	decodeBody(t, rec, &body)
	for _, key := range []string{"data", "page", "per_page", "total", "total_pages"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("missing %q in %v", key, body)
		}
	}
}

func TestListDefaults(t *testing.T) {
	fake := &fakeSnapshots{page: &service.SnapshotPage{Data: []models.Snapshot{}}}
	h := NewSnapshotHandlers(fake, zap.NewNop())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/dp/saved", nil))

	if fake.params.Page != service.DefaultPage || fake.params.PerPage != service.DefaultPerPage {
		t.Fatalf("params = %+v", fake.params)
	}
}

func TestListRejectsBadParameters(t *testing.T) {
	for _, target := range []string{"/dp/saved?page=x", "/dp/saved?per_page=1.5"} {
		h := NewSnapshotHandlers(&fakeSnapshots{}, zap.NewNop())
		rec := httptest.NewRecorder()
		h.List(rec, httptest.NewRequest(http.MethodGet, target, nil))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", target, rec.Code)
		}
	}

	h := NewSnapshotHandlers(&fakeSnapshots{listErr: fmt.Errorf("%w: page must be >= 1", service.ErrInvalidQuery)}, zap.NewNop())
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/dp/saved?page=0", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid query status = %d", rec.Code)
	}

	h = NewSnapshotHandlers(&fakeSnapshots{listErr: errors.New("timeout")}, zap.NewNop())
	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/dp/saved", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("storage failure status = %d", rec.Code)
	}
}

func TestDPLogLimit(t *testing.T) {
	cases := []struct {
		target string
		want   int
	}{
		{"/dp", 50},
		{"/dp?limit=5", 5},
		{"/dp?limit=0", 1},
		{"/dp?limit=100000", 1000},
	}
	for _, tc := range cases {
		reader := &fakeDPLog{rows: []models.DPLogEntry{}}
		rec := httptest.NewRecorder()
		NewDPLogHandler(reader, zap.NewNop())(rec, httptest.NewRequest(http.MethodGet, tc.target, nil))
		if rec.Code != http.StatusOK || reader.limit != tc.want {
			t.Fatalf("%s: status %d limit %d, want limit %d", tc.target, rec.Code, reader.limit, tc.want)
		}
		if got := rec.Body.String(); got != "[]\n" {
			t.Fatalf("%s: body = %q", tc.target, got)
		}
	}

	rec := httptest.NewRecorder()
	NewDPLogHandler(&fakeDPLog{}, zap.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/dp?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric limit status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	NewDPLogHandler(&fakeDPLog{err: errors.New("down")}, zap.NewNop())(rec, httptest.NewRequest(http.MethodGet, "/dp", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("failure status = %d", rec.Code)
	}
}

type fakeBridge struct{ status ingest.Status }

func (f fakeBridge) Status() ingest.Status { return f.status }

type fakeCache struct{ reading models.Reading }

func (f fakeCache) Snapshot() models.Reading { return f.reading }

type fakeMirror struct {
	latest *redisstore.LatestReading
	err    error
}

func (f fakeMirror) Get(context.Context) (*redisstore.LatestReading, error) { return f.latest, f.err }

type fakeViewers int

func (f fakeViewers) Count() int { return int(f) }

func TestMQTTHealth(t *testing.T) {
	at := time.Unix(1714550400, 0).UTC()
	bridge := fakeBridge{status: ingest.Status{
		State: "subscribed", Connected: true, Broker: "mqtt:1883", Topic: "stm/dp",
		Received: 4, Dropped: 1, LastMessageAt: &at,
	}}
	cache := fakeCache{reading: models.Reading{SpecificGravity: 1.2, Level: 3, LastReceivedAt: at}}
	mirror := fakeMirror{latest: &redisstore.LatestReading{SpecificGravity: 1.2, Level: 3, ReceivedAt: at}}

	rec := httptest.NewRecorder()
	NewMQTTHealthHandler(bridge, cache, fakeViewers(2), mirror, zap.NewNop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/mqtt", nil))

	var body struct {
		Broker     string     `json:"broker"`
		Topic      string     `json:"topic"`
		State      string     `json:"state"`
		Connected  bool       `json:"connected"`
		LastAt     float64    `json:"last_mqtt_received_at"`
		LastMsgAt  *time.Time `json:"last_message_at"`
		Received   uint64     `json:"messages_received"`
		Dropped    uint64     `json:"messages_dropped"`
		Viewers    int        `json:"viewers"`
		LatestData struct {
			SG    float64 `json:"sg"`
			Level float64 `json:"level"`
		} `json:"latest_data"`
		Mirror *redisstore.LatestReading `json:"mirror"`
	}
	decodeBody(t, rec, &body)

	if body.Broker != "mqtt:1883" || body.Topic != "stm/dp" || body.State != "subscribed" || !body.Connected {
		t.Fatalf("body = %+v", body)
	}
	if body.LatestData.SG != 1.2 || body.LatestData.Level != 3 || body.LastAt != 1714550400 {
		t.Fatalf("body = %+v", body)
	}
	if body.LastMsgAt == nil || !body.LastMsgAt.Equal(at) || body.Received != 4 || body.Dropped != 1 || body.Viewers != 2 {
		t.Fatalf("body = %+v", body)
	}
	if body.Mirror == nil || body.Mirror.Level != 3 {
		t.Fatalf("mirror = %+v", body.Mirror)
	}
}

func TestMQTTHealthBeforeFirstMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMQTTHealthHandler(fakeBridge{status: ingest.Status{State: "connecting"}}, fakeCache{}, fakeViewers(0), fakeMirror{err: errors.New("down")}, zap.NewNop()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/mqtt", nil))

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	if body["last_mqtt_received_at"] != float64(0) || body["connected"] != false {
		t.Fatalf("body = %v", body)
	}
	if v, ok := body["last_message_at"]; !ok || v != nil {
		t.Fatalf("last_message_at = %v (present %v)", v, ok)
	}
	if v, ok := body["mirror"]; !ok || v != nil {
		t.Fatalf("mirror = %v (present %v), want null", v, ok)
	}
}

func TestMQTTHealthWithoutMirror(t *testing.T) {
	rec := httptest.NewRecorder()
	NewMQTTHealthHandler(fakeBridge{status: ingest.Status{State: "subscribed", Connected: true}}, fakeCache{}, fakeViewers(1), nil, zap.NewNop()).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/mqtt", nil))

	var body map[string]interface{}
	decodeBody(t, rec, &body)
	if _, ok := body["mirror"]; ok {
		t.Fatalf("mirror key present without a configured mirror: %v", body)
	}
	if body["viewers"] != float64(1) {
		t.Fatalf("viewers = %v", body["viewers"])
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHealthHandler("battery-service")(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("status = %d", rec.Code)
	}
}
