package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlife/scheduler/internal/core"
	"github.com/quantumlife/scheduler/internal/logging"
	"github.com/quantumlife/scheduler/internal/storage"
)

// testServer creates a Server wired to an in-memory database, with no
// orchestrator/approval/oauth collaborators: only the handlers that don't
// touch those are exercised here.
func testServer(t *testing.T) (*Server, *storage.DB) {
	t.Helper()

	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	srv := &Server{
		sessions: storage.NewSessionStore(db),
		messages: storage.NewMessageStore(db),
		users:    storage.NewUserStore(db),
		log:      logging.Nop(),
	}
	return srv, db
}

func TestAPI_UpsertAndGetUser(t *testing.T) {
	srv, db := testServer(t)
	defer db.Close()

	body, _ := json.Marshal(map[string]string{"id": "u1", "display_name": "Alice"})
	req := httptest.NewRequest("POST", "/api/v1/users", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.handleUpsertUser(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("upsert status = %d, body = %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/v1/users/u1", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("userID", "u1")
	req = req.WithContext(withChiCtx(req, rctx))
	rr = httptest.NewRecorder()
	srv.handleGetUser(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var got core.User
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.DisplayName != "Alice" {
		t.Errorf("DisplayName = %q, want Alice", got.DisplayName)
	}
}

func TestAPI_UpsertUser_MissingFieldsRejected(t *testing.T) {
	srv, db := testServer(t)
	defer db.Close()

	body, _ := json.Marshal(map[string]string{"id": "u1"})
	req := httptest.NewRequest("POST", "/api/v1/users", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	srv.handleUpsertUser(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
}

func TestAPI_GetUser_NotFound(t *testing.T) {
	srv, db := testServer(t)
	defer db.Close()

	req := httptest.NewRequest("GET", "/api/v1/users/ghost", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("userID", "ghost")
	req = req.WithContext(withChiCtx(req, rctx))
	rr := httptest.NewRecorder()
	srv.handleGetUser(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestAPI_GetSessionMessages_EmptyForUnknownSession(t *testing.T) {
	srv, db := testServer(t)
	defer db.Close()

	req := httptest.NewRequest("GET", "/api/v1/sessions/s1/messages", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("sessionID", "s1")
	req = req.WithContext(withChiCtx(req, rctx))
	rr := httptest.NewRecorder()
	srv.handleGetSessionMessages(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	var msgs []core.NegotiationMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("len(msgs) = %d, want 0", len(msgs))
	}
}

func TestErrorStatus_MapsSentinelsWithoutLeakingUnknownErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{core.ErrSessionNotFound, http.StatusNotFound},
		{core.ErrInvalidInput, http.StatusBadRequest},
		{core.ErrAlreadyApproved, http.StatusConflict},
		{core.ErrCredentialsMissing, http.StatusPreconditionFailed},
	}
	for _, tc := range cases {
		status, msg := errorStatus(tc.err)
		if status != tc.want {
			t.Errorf("errorStatus(%v) status = %d, want %d", tc.err, status, tc.want)
		}
		if msg != tc.err.Error() {
			t.Errorf("errorStatus(%v) message = %q, want %q", tc.err, msg, tc.err.Error())
		}
	}

	status, msg := errorStatus(&unmappedError{})
	if status != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", status)
	}
	if msg != "internal error" {
		t.Errorf("message = %q, want a generic message that does not leak internals", msg)
	}
}

type unmappedError struct{}

func (e *unmappedError) Error() string { return "some internal detail: connection refused" }

// withChiCtx attaches a chi route context to req's context, the same way
// chi's router does before calling a handler.
func withChiCtx(r *http.Request, rctx *chi.Context) context.Context {
	return context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
}
