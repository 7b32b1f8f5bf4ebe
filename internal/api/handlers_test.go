// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"

	"github.com/tomtom215/cartosync/internal/attachments"
	"github.com/tomtom215/cartosync/internal/edits"
	"github.com/tomtom215/cartosync/internal/kvstore"
	"github.com/tomtom215/cartosync/internal/orchestrator"
	"github.com/tomtom215/cartosync/internal/tiles"
	"github.com/tomtom215/cartosync/internal/transport"
)

const testLayer = "https://example.test/FeatureServer/0"

// stubService accepts everything. Adds get ids from 101 up.
type stubService struct {
	mu      sync.Mutex
	nextOID int64
	calls   int
}

func (s *stubService) ApplyBulkEdit(_ context.Context, _ string, adds, updates, deletes []*geojson.Feature) (*transport.BulkEditResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	res := &transport.BulkEditResult{}
	for range adds {
		s.nextOID++
		res.AddResults = append(res.AddResults, transport.EditResult{ObjectID: 100 + s.nextOID, Success: true})
	}
	for range updates {
		res.UpdateResults = append(res.UpdateResults, transport.EditResult{Success: true})
	}
	for range deletes {
		res.DeleteResults = append(res.DeleteResults, transport.EditResult{Success: true})
	}
	return res, nil
}

func (s *stubService) AddAttachment(context.Context, string, string, transport.Upload) (*transport.AttachmentResult, error) {
	return &transport.AttachmentResult{Success: true, AttachmentID: 900}, nil
}

func (s *stubService) UpdateAttachment(_ context.Context, _, _ string, id int64, _ transport.Upload) (*transport.AttachmentResult, error) {
	return &transport.AttachmentResult{Success: true, AttachmentID: id}, nil
}

func (s *stubService) DeleteAttachments(_ context.Context, _, _ string, ids []int64) ([]transport.AttachmentResult, error) {
	out := make([]transport.AttachmentResult, len(ids))
	for i, id := range ids {
		out[i] = transport.AttachmentResult{Success: true, AttachmentID: id}
	}
	return out, nil
}

func (s *stubService) Ping(context.Context) error { return nil }

type fixedBreaker string

func (b fixedBreaker) State() string { return string(b) }

func openStore(t *testing.T, name, keyPath string) *kvstore.Store {
	t.Helper()
	s, err := kvstore.OpenInMemory(kvstore.Schema{Name: name, Version: 1, StoreName: name, KeyPath: keyPath})
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type testServer struct {
	router http.Handler
	o      *orchestrator.Orchestrator
	svc    *stubService
}

func setupServer(t *testing.T, state orchestrator.State) *testServer {
	t.Helper()
	return setupServerWith(t, state, nil)
}

// setupServerWith lets a test adjust the handler config before the router
// is built.
func setupServerWith(t *testing.T, state orchestrator.State, adjust func(*Config)) *testServer {
	t.Helper()
	eq := edits.NewQueue(openStore(t, "edits", "id"), edits.NewCodec(""))
	aq := attachments.NewQueue(openStore(t, "attachments", "id"))
	eq.SetAttachmentPurger(aq)

	svc := &stubService{}
	o := orchestrator.New(eq, aq, svc, nil, orchestrator.Config{InitialState: state})
	cfg := Config{
		Orchestrator: o,
		Tiles:        tiles.NewCache(openStore(t, "tiles", "url")),
		Breaker:      fixedBreaker("closed"),
		Version:      "test",
	}
	if adjust != nil {
		adjust(&cfg)
	}
	h := NewHandler(cfg)
	return &testServer{router: NewRouter(h), o: o, svc: svc}
}

// envelope mirrors APIResponse with Data left raw.
type envelope struct {
	Status   string          `json:"status"`
	Data     json.RawMessage `json:"data"`
	Metadata Metadata        `json:"metadata"`
	Error    *APIError       `json:"error"`
}

func (ts *testServer) do(t *testing.T, method, target string, body io.Reader, contentType string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("%s %s: decode envelope: %v (%s)", method, target, err, rec.Body.String())
		}
	}
	return rec, env
}

func (ts *testServer) doJSON(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	return ts.do(t, method, target, strings.NewReader(body), "application/json")
}

func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode data: %v (%s)", err, env.Data)
	}
}

func editBody(adds, updates int) string {
	var a, u []string
	for i := 0; i < adds; i++ {
		a = append(a, fmt.Sprintf(`{"type":"Feature","geometry":{"type":"Point","coordinates":[%d,1]},"properties":{"name":"a%d"}}`, i, i))
	}
	for i := 0; i < updates; i++ {
		u = append(u, fmt.Sprintf(`{"type":"Feature","geometry":{"type":"Point","coordinates":[2,%d]},"properties":{"OBJECTID":%d}}`, i, 10+i))
	}
	return fmt.Sprintf(`{"layer":%q,"adds":[%s],"updates":[%s]}`, testLayer, strings.Join(a, ","), strings.Join(u, ","))
}

func TestHealth(t *testing.T) {
	t.Parallel()

	t.Run("healthy", func(t *testing.T) {
		t.Parallel()
		ts := setupServer(t, orchestrator.StateOnline)
		rec, env := ts.do(t, http.MethodGet, "/api/v1/health", nil, "")
		if rec.Code != http.StatusOK || env.Status != "success" {
			t.Fatalf("status = %d %q", rec.Code, env.Status)
		}
		var hs HealthStatus
		decodeData(t, env, &hs)
		if hs.Status != "healthy" || hs.State != "ONLINE" || !hs.OfflineSupported || hs.Version != "test" {
			t.Errorf("health = %+v", hs)
		}
	})

	t.Run("degraded without edit store", func(t *testing.T) {
		t.Parallel()
		o := orchestrator.New(nil, nil, &stubService{}, nil, orchestrator.Config{})
		ts := &testServer{router: NewRouter(NewHandler(Config{Orchestrator: o}))}
		_, env := ts.do(t, http.MethodGet, "/api/v1/health", nil, "")
		var hs HealthStatus
		decodeData(t, env, &hs)
		if hs.Status != "degraded" || hs.OfflineSupported {
			t.Errorf("health = %+v", hs)
		}
	})
}

func TestOfflineEditsThenReplay(t *testing.T) {
	t.Parallel()
	ts := setupServer(t, orchestrator.StateOnline)

	rec, env := ts.do(t, http.MethodPost, "/api/v1/offline", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("offline = %d", rec.Code)
	}
	var st stateResponse
	decodeData(t, env, &st)
	if st.State != "OFFLINE" {
		t.Fatalf("state = %q", st.State)
	}

	rec, env = ts.doJSON(t, http.MethodPost, "/api/v1/edits", editBody(1, 1))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("apply = %d: %s", rec.Code, rec.Body.String())
	}
	var applied orchestrator.ApplyResult
	decodeData(t, env, &applied)
	if !applied.Queued || !applied.Success || applied.AddResults[0].ObjectID != -1 {
		t.Errorf("apply result = %+v", applied)
	}

	_, env = ts.do(t, http.MethodGet, "/api/v1/edits", nil, "")
	var listed []EditView
	decodeData(t, env, &listed)
	if len(listed) != 2 {
		t.Fatalf("queued = %d, want 2", len(listed))
	}

	_, env = ts.do(t, http.MethodGet, "/api/v1/status", nil, "")
	var status Status
	decodeData(t, env, &status)
	if status.State != "OFFLINE" || status.Edits == nil || status.Edits.EditCount != 2 || status.Breaker != "closed" {
		t.Errorf("status = %+v", status)
	}

	rec, env = ts.do(t, http.MethodPost, "/api/v1/online", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("online = %d: %s", rec.Code, rec.Body.String())
	}
	var synced orchestrator.SyncResult
	decodeData(t, env, &synced)
	if !synced.Success || len(synced.Edits) != 2 || len(synced.Pending()) != 0 {
		t.Errorf("sync result = %+v", synced)
	}

	_, env = ts.do(t, http.MethodGet, "/api/v1/edits", nil, "")
	decodeData(t, env, &listed)
	if len(listed) != 0 {
		t.Errorf("queue not drained: %d left", len(listed))
	}
	if ts.o.State() != orchestrator.StateOnline {
		t.Errorf("state = %s", ts.o.State())
	}
}

func TestApplyEditOnline(t *testing.T) {
	t.Parallel()
	ts := setupServer(t, orchestrator.StateOnline)

	rec, env := ts.doJSON(t, http.MethodPost, "/api/v1/edits", editBody(2, 0))
	if rec.Code != http.StatusOK {
		t.Fatalf("apply = %d: %s", rec.Code, rec.Body.String())
	}
	var applied orchestrator.ApplyResult
	decodeData(t, env, &applied)
	if applied.Queued || len(applied.AddResults) != 2 || applied.AddResults[0].ObjectID != 101 {
		t.Errorf("apply result = %+v", applied)
	}
	if ts.svc.calls != 1 {
		t.Errorf("service calls = %d, want 1", ts.svc.calls)
	}
}

func TestApplyEditRejectsBadRequests(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		body string
		code string
	}{
		{"malformed json", `{"layer":`, "INVALID_JSON"},
		{"missing layer", `{"adds":[{"type":"Feature","geometry":null,"properties":{}}]}`, "VALIDATION_ERROR"},
		{"layer with query", `{"layer":"https://example.test/0?f=json","adds":[{"type":"Feature","geometry":null,"properties":{}}]}`, "VALIDATION_ERROR"},
		{"no features", fmt.Sprintf(`{"layer":%q}`, testLayer), "VALIDATION_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ts := setupServer(t, orchestrator.StateOffline)
			rec, env := ts.doJSON(t, http.MethodPost, "/api/v1/edits", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %s", env.Error, tt.code)
			}
		})
	}
}

func TestResetEdits(t *testing.T) {
	t.Parallel()
	ts := setupServer(t, orchestrator.StateOffline)
	if rec, _ := ts.doJSON(t, http.MethodPost, "/api/v1/edits", editBody(2, 0)); rec.Code != http.StatusAccepted {
		t.Fatalf("apply = %d", rec.Code)
	}

	rec, env := ts.doJSON(t, http.MethodDelete, "/api/v1/edits", `{"confirm":false}`)
	if rec.Code != http.StatusBadRequest || env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("unconfirmed reset = %d %+v", rec.Code, env.Error)
	}
	if u, _ := ts.o.Edits().Usage(context.Background()); u.EditCount != 2 {
		t.Fatalf("unconfirmed reset dropped edits: %d left", u.EditCount)
	}

	rec, _ = ts.doJSON(t, http.MethodDelete, "/api/v1/edits", `{"confirm":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset = %d: %s", rec.Code, rec.Body.String())
	}
	if u, _ := ts.o.Edits().Usage(context.Background()); u.EditCount != 0 {
		t.Errorf("edits left after reset: %d", u.EditCount)
	}
}

func multipartUpload(t *testing.T, name, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write([]byte(content))
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestAttachmentsOffline(t *testing.T) {
	t.Parallel()
	ts := setupServer(t, orchestrator.StateOffline)
	target := "/api/v1/attachments?layer=" + testLayer + "&object_id=42"

	body, ct := multipartUpload(t, "photo.jpg", "image/jpeg", "jpeg-bytes")
	rec, env := ts.do(t, http.MethodPost, target, body, ct)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload = %d: %s", rec.Code, rec.Body.String())
	}
	var added transport.AttachmentResult
	decodeData(t, env, &added)
	if !added.Success || added.AttachmentID != -1 {
		t.Fatalf("upload result = %+v", added)
	}

	_, env = ts.do(t, http.MethodGet, target, nil, "")
	var listed []attachments.Record
	decodeData(t, env, &listed)
	if len(listed) != 1 || listed[0].Name != "photo.jpg" || listed[0].Size != int64(len("jpeg-bytes")) {
		t.Fatalf("listed = %+v", listed)
	}
	if listed[0].Content != nil {
		t.Error("listing included attachment content")
	}

	rec, _ = ts.do(t, http.MethodDelete, "/api/v1/attachments/-1?layer="+testLayer+"&object_id=42", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete = %d: %s", rec.Code, rec.Body.String())
	}
	_, env = ts.do(t, http.MethodGet, "/api/v1/attachments", nil, "")
	decodeData(t, env, &listed)
	if len(listed) != 0 {
		t.Errorf("attachments left: %+v", listed)
	}
}

func TestAttachmentUploadValidation(t *testing.T) {
	t.Parallel()
	ts := setupServer(t, orchestrator.StateOffline)

	tests := []struct {
		name        string
		target      string
		contentType string
		want        int
	}{
		{"missing object id", "/api/v1/attachments?layer=" + testLayer, "image/png", http.StatusBadRequest},
		{"bad media type", "/api/v1/attachments?layer=" + testLayer + "&object_id=1", "not a type", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := multipartUpload(t, "f.bin", tt.contentType, "x")
			rec, _ := ts.do(t, http.MethodPost, tt.target, body, ct)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}

	rec, _ := ts.do(t, http.MethodDelete, "/api/v1/attachments/abc?layer="+testLayer+"&object_id=1", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id = %d, want 400", rec.Code)
	}
}

func TestLayers(t *testing.T) {
	t.Parallel()
	ts := setupServer(t, orchestrator.StateOffline)

	rec, _ := ts.do(t, http.MethodGet, "/api/v1/layers", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("empty layers = %d, want 404", rec.Code)
	}

	rec, _ = ts.doJSON(t, http.MethodPut, "/api/v1/layers", `{"layers":[{"id":0,"name":"Hydrants"}]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("put = %d: %s", rec.Code, rec.Body.String())
	}
	_, env := ts.do(t, http.MethodGet, "/api/v1/layers", nil, "")
	var md edits.LayerMetadata
	decodeData(t, env, &md)
	if len(md.Layers) != 1 || !strings.Contains(string(md.Layers[0]), "Hydrants") {
		t.Errorf("layers = %s", env.Data)
	}

	rec, _ = ts.doJSON(t, http.MethodPut, "/api/v1/layers", `{"layers":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty put = %d, want 400", rec.Code)
	}
}

func TestRespondOrchestratorError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want int
		code string
	}{
		{orchestrator.ErrOfflineUnsupported, http.StatusServiceUnavailable, "OFFLINE_UNSUPPORTED"},
		{orchestrator.ErrReplayInProgress, http.StatusConflict, "REPLAY_IN_PROGRESS"},
		{&transport.TimeoutError{Op: "applyEdits"}, http.StatusGatewayTimeout, "TRANSPORT_TIMEOUT"},
		{&transport.TransportError{Op: "applyEdits", Err: errors.New("refused")}, http.StatusBadGateway, "TRANSPORT_ERROR"},
		{attachments.ErrTooLarge, http.StatusRequestEntityTooLarge, "TOO_LARGE"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			respondOrchestratorError(rec, httptest.NewRequest(http.MethodPost, "/", nil), tt.err)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			var env envelope
			if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
				t.Fatal(err)
			}
			if env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("error = %+v, want %s", env.Error, tt.code)
			}
		})
	}
}
