package history

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(t *testing.T) (*Handler, *Store) {
	store := newTestStore(t)
	return NewHandler(store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestHandler_List(t *testing.T) {
	h, store := newTestHandler(t)
	_ = store.Create(context.Background(), &Record{ID: "iv_1"})
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/history?limit=500", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.List(c); err != nil {
		t.Fatalf("List error: %v", err)
	}

	var resp ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if resp.Limit != 20 {
		t.Errorf("expected clamped limit 20, got %d", resp.Limit)
	}
	if len(resp.Records) != 1 {
		t.Errorf("expected 1 record, got %d", len(resp.Records))
	}
}

func TestHandler_ListInvalidStatus(t *testing.T) {
	h, _ := newTestHandler(t)
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/history?status=bogus", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := h.List(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_GetAndDelete(t *testing.T) {
	h, store := newTestHandler(t)
	_ = store.Create(context.Background(), &Record{ID: "iv_1", Role: "sre"})
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/history/iv_1", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("iv_1")

	if err := h.Get(c); err != nil {
		t.Fatalf("Get error: %v", err)
	}
	var r Record
	_ = json.Unmarshal(rec.Body.Bytes(), &r)
	if r.Role != "sre" {
		t.Errorf("unexpected record %+v", r)
	}

	req = httptest.NewRequest(http.MethodDelete, "/history/iv_1", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("iv_1")
	if err := h.Delete(c); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/history/iv_1", nil)
	rec = httptest.NewRecorder()
	c = e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("iv_1")
	err := h.Get(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %v", err)
	}
}
