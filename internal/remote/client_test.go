package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	apperrors "github.com/alexjbarnes/fieldsync/internal/errors"
	"github.com/alexjbarnes/fieldsync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticToken string

func (s staticToken) AccessToken(context.Context) (string, error) { return string(s), nil }

type failingToken struct{ err error }

func (f failingToken) AccessToken(context.Context) (string, error) { return "", f.err }

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, staticToken("tok"), srv.Client(), quietLogger())
}

func writeJSON(w http.ResponseWriter, code int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = io.WriteString(w, body)
}

// --- Fetch / envelope ---

func TestFetch_SendsBearerAndReturnsData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/ping", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("x"))
		writeJSON(w, 200, `{"status":true,"data":{"ok":1}}`)
	})

	data, err := c.Fetch(context.Background(), http.MethodGet, "/ping", map[string][]string{"x": {"1"}}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":1}`, string(data))
}

func TestFetch_StatusEncodings(t *testing.T) {
	tests := []struct {
		body string
		ok   bool
	}{
		{`{"status":true,"data":1}`, true},
		{`{"status":"success","data":1}`, true},
		{`{"status":"OK","data":1}`, true},
		{`{"status":200,"data":1}`, true},
		{`{"status":false,"message":"nope"}`, false},
		{`{"status":"error","message":"nope"}`, false},
		{`{"data":1}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, 200, tt.body)
			})

			_, err := c.Fetch(context.Background(), http.MethodGet, "/x", nil, nil)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperrors.ErrRemoteStatus)
			}
		})
	}
}

func TestFetch_FailureMessageIncluded(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, `{"status":false,"message":"case locked"}`)
	})

	_, err := c.Fetch(context.Background(), http.MethodGet, "/x", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "case locked")
}

func TestFetch_InvalidJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, `<html>`)
	})

	_, err := c.Fetch(context.Background(), http.MethodGet, "/x", nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrAPIResponse)
}

func TestFetch_MissingDataIsNull(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, `{"status":"ok"}`)
	})

	data, err := c.Fetch(context.Background(), http.MethodPost, "/x", nil, map[string]string{"a": "b"})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}

func TestFetch_Unauthorized(t *testing.T) {
	for _, code := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, code, `{"status":false}`)
		})

		_, err := c.Fetch(context.Background(), http.MethodGet, "/x", nil, nil)
		assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
		assert.True(t, apperrors.IsAuth(err))
	}
}

func TestFetch_ServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 503, `{"message":"maintenance"}`)
	})

	_, err := c.Fetch(context.Background(), http.MethodGet, "/x", nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrRemoteStatus)
	assert.True(t, IsTransient(err))
	assert.Contains(t, err.Error(), "maintenance")
}

func TestFetch_ClientErrorNotTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 400, "bad\x01input")
	})

	_, err := c.Fetch(context.Background(), http.MethodGet, "/x", nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrRemoteStatus)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "bad?input")
}

func TestFetch_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, staticToken("tok"), nil, quietLogger())
	_, err := c.Fetch(context.Background(), http.MethodGet, "/x", nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrTransport)
	assert.True(t, IsTransient(err))
}

func TestFetch_TokenErrorStopsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { called = true }))
	defer srv.Close()

	c := NewClient(srv.URL, failingToken{err: apperrors.ErrInvalidToken}, srv.Client(), quietLogger())
	_, err := c.Fetch(context.Background(), http.MethodGet, "/x", nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrInvalidToken)
	assert.False(t, called)
}

func TestFetch_ContextTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx, http.MethodGet, "/slow", nil, nil)
	assert.ErrorIs(t, err, apperrors.ErrTransport)
}

// --- Typed endpoints ---

func TestListInspections_QueryAndDecode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/inspections", r.URL.Path)
		assert.Equal(t, "2", q.Get("page"))
		assert.Equal(t, "20", q.Get("pageSize"))
		assert.Equal(t, "boiler", q.Get("search"))
		assert.Equal(t, "alice", q.Get("assignedTo"))
		writeJSON(w, 200, `{"status":"success","data":[
			{"inspectionId":"I1","title":"Boiler","modifiedAt":"2025-01-02T00:00:00Z","readOnly":true},
			{"inspectionId":"I2","title":"Lift"}
		]}`)
	})

	got, err := c.ListInspections(context.Background(), models.ListQuery{Page: 2, PageSize: 20, Search: "boiler", AssignedTo: "alice"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "I1", got[0].InspectionID)
	assert.True(t, got[0].ReadOnly)
	require.NotNil(t, got[0].ModifiedAt)
	assert.Nil(t, got[1].ModifiedAt)
}

func TestListInspections_ItemsObject(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, `{"status":true,"data":{"items":[{"inspectionId":"I1"}],"total":1}}`)
	})

	got, err := c.ListInspections(context.Background(), models.ListQuery{Page: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestListInspections_WrongShape(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, `{"status":true,"data":"oops"}`)
	})

	_, err := c.ListInspections(context.Background(), models.ListQuery{Page: 1})
	assert.ErrorIs(t, err, apperrors.ErrAPIResponse)
}

func TestListSubmissions_MarkedSynced(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, `{"status":true,"data":[{"submissionId":"S1","inspectionId":"I1"}]}`)
	})

	got, err := c.ListSubmissions(context.Background(), models.ListQuery{Page: 1})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Synced)
	assert.Equal(t, models.SubmissionSynced, got[0].Status)
}

func TestListFolder_SetsParent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/folders/F%201/children", r.URL.EscapedPath())
		writeJSON(w, 200, `{"status":true,"data":[{"id":"A","name":"a","kind":"folder"},{"id":"B","parentId":"other","kind":"document"}]}`)
	})

	got, err := c.ListFolder(context.Background(), "F 1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "F 1", got[0].ParentID)
	assert.Equal(t, "other", got[1].ParentID)
}

func TestSubmitInspection_Body(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req SubmissionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "S1", req.SubmissionID)
		assert.JSONEq(t, `{"answer":42}`, string(req.Payload))
		writeJSON(w, 200, `{"status":true}`)
	})

	err := c.SubmitInspection(context.Background(), models.Submission{
		SubmissionID: "S1", InspectionID: "I1", Payload: `{"answer":42}`,
	})
	require.NoError(t, err)
}

func TestSubmitInspection_NonJSONPayloadQuoted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req SubmissionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, `"free text"`, string(req.Payload))
		writeJSON(w, 200, `{"status":true}`)
	})

	require.NoError(t, c.SubmitInspection(context.Background(), models.Submission{SubmissionID: "S1", Payload: "free text"}))
}

func TestLogin(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		writeJSON(w, 200, `{"status":true,"data":{"accessToken":"abc","userId":"u1","role":"inspector","licenseRole":"field"}}`)
	})

	resp, err := c.Login(context.Background(), "u", "p")
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.AccessToken)
	assert.Equal(t, "inspector", resp.UserRole)
}

func TestLogin_NoToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, `{"status":true,"data":{}}`)
	})

	_, err := c.Login(context.Background(), "u", "p")
	assert.ErrorIs(t, err, apperrors.ErrAPIResponse)
}

// --- helpers ---

func TestSameHostRedirectPolicy(t *testing.T) {
	orig, _ := http.NewRequest(http.MethodGet, "https://api.example.com/a", nil)
	same, _ := http.NewRequest(http.MethodGet, "https://api.example.com/b", nil)
	other, _ := http.NewRequest(http.MethodGet, "https://evil.example.com/b", nil)

	assert.NoError(t, sameHostRedirectPolicy(same, []*http.Request{orig}))
	assert.Error(t, sameHostRedirectPolicy(other, []*http.Request{orig}))

	via := make([]*http.Request, maxRedirects)
	for i := range via {
		via[i] = orig
	}

	assert.Error(t, sameHostRedirectPolicy(same, via))
}

func TestSanitizeResponseBody(t *testing.T) {
	assert.Equal(t, "a?b", sanitizeResponseBody([]byte("a\x00b")))
	assert.Len(t, sanitizeResponseBody([]byte(strings.Repeat("x", 1000))), 256)
	assert.Equal(t, "?", sanitizeResponseBody([]byte{0xff}))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(&TransientError{Err: errors.New("x")}))
	assert.False(t, IsTransient(errors.New("x")))
}
