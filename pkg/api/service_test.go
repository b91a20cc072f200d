package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/factline/cli/pkg/client"
	cerrors "github.com/factline/cli/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, handler http.HandlerFunc) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewService(client.New(srv.URL, 5*time.Second))
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestStartPreAnalysis(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/reels/pre-analyze", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "video", r.FormValue("content_type"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "clip.mp4", hdr.Filename)
		assert.Equal(t, "frames", string(data))

		_, _ = io.WriteString(w, `{"success":true,"task_id":"t-1","processing_token":"pt-1"}`)
	})

	res, err := svc.StartPreAnalysis(context.Background(), KindReel, writeTempFile(t, "clip.mp4", "frames"))
	require.NoError(t, err)
	assert.Equal(t, "t-1", res.TaskID)
	assert.Equal(t, "pt-1", res.ProcessingToken)
}

func TestPreAnalysisStatus(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/pre-analysis/t-9/status", r.URL.Path)
		_, _ = io.WriteString(w, `{"state":"SUCCESS","status":"done","result":{"success":false}}`)
	})

	status, err := svc.PreAnalysisStatus(context.Background(), "t-9")
	require.NoError(t, err)
	assert.Equal(t, TaskSuccess, status.State)
	assert.True(t, status.Result.Incomplete())
	assert.Nil(t, status.Result.ModerationError)
}

func TestPreAnalysisStatusNotFound(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Task not found"}`)
	})

	_, err := svc.PreAnalysisStatus(context.Background(), "gone")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeNotFound))
	assert.Equal(t, "Task not found", err.Error())
}

func TestPreAnalysisStatusUnparseableIsTransport(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html>gateway</html>`)
	})

	_, err := svc.PreAnalysisStatus(context.Background(), "t-1")
	require.Error(t, err)
	assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeTransport))
}

func TestPreAnalysisStatusTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	svc := NewService(client.New(srv.URL, time.Second))

	_, err := svc.PreAnalysisStatus(context.Background(), "t-1")
	require.Error(t, err)
	assert.True(t, cerrors.IsType(err, cerrors.ErrorTypeTransport))
}

func TestSubmit(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/posts", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "sunset", r.FormValue("caption"))
		assert.Equal(t, "pt-1", r.FormValue("processing_token"))
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"id":"p-1","processing_status":"pending"}`)
	})

	content, err := svc.Submit(context.Background(), KindPost, writeTempFile(t, "a.jpg", "img"), "sunset", "pt-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", content.ID)
}

func TestSubmitWithoutTokenOmitsField(t *testing.T) {
	svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		_, present := r.MultipartForm.Value["processing_token"]
		assert.False(t, present)
		_, _ = io.WriteString(w, `{"id":"p-2"}`)
	})

	_, err := svc.Submit(context.Background(), KindPost, writeTempFile(t, "a.jpg", "img"), "", "")
	require.NoError(t, err)
}

func TestSubmitErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType cerrors.ErrorType
		check    func(t *testing.T, err error)
	}{
		{
			name:     "moderation object",
			status:   http.StatusBadRequest,
			body:     `{"moderation_error":{"message":"Graphic content","category":"violence","reasons":["weapon"]}}`,
			wantType: cerrors.ErrorTypeModeration,
			check: func(t *testing.T, err error) {
				m, ok := cerrors.AsModeration(err)
				require.True(t, ok)
				assert.Equal(t, "Graphic content", m.Message)
				assert.Equal(t, "violence", m.Category)
				assert.Equal(t, []string{"weapon"}, m.Reasons)
			},
		},
		{
			name:     "moderation string nested in detail",
			status:   http.StatusUnprocessableEntity,
			body:     `{"detail":{"code":"moderation_failed","moderation_error":"Spam detected"}}`,
			wantType: cerrors.ErrorTypeModeration,
			check: func(t *testing.T, err error) {
				m, ok := cerrors.AsModeration(err)
				require.True(t, ok)
				assert.Equal(t, "Spam detected", m.Message)
			},
		},
		{
			name:     "moderation code only",
			status:   http.StatusBadRequest,
			body:     `{"code":"moderation_failed","message":"Not allowed"}`,
			wantType: cerrors.ErrorTypeModeration,
		},
		{
			name:     "plain bad request",
			status:   http.StatusBadRequest,
			body:     `{"detail":"caption too long"}`,
			wantType: cerrors.ErrorTypeServer,
			check: func(t *testing.T, err error) {
				assert.Equal(t, "caption too long", err.Error())
			},
		},
		{
			name:     "moderation unavailable",
			status:   http.StatusServiceUnavailable,
			body:     `{"code":"moderation_unavailable"}`,
			wantType: cerrors.ErrorTypeServiceUnavailable,
		},
		{
			name:     "internal error",
			status:   http.StatusInternalServerError,
			body:     `oops`,
			wantType: cerrors.ErrorTypeServer,
			check: func(t *testing.T, err error) {
				assert.True(t, cerrors.CategorizeError(err).Retryable())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			content, err := svc.Submit(context.Background(), KindPost, writeTempFile(t, "a.jpg", "img"), "c", "")
			require.Error(t, err)
			assert.Nil(t, content)
			assert.True(t, cerrors.IsType(err, tt.wantType), "got %v", cerrors.CategorizeError(err).Type)
			if tt.check != nil {
				tt.check(t, err)
			}
		})
	}
}

func TestStreamURLs(t *testing.T) {
	svc := NewService(client.New("https://api.factline.test/", time.Second))

	assert.Equal(t,
		"https://api.factline.test/api/v1/reels/r%2F1/processing-stream?token=a+b",
		svc.StreamURL(KindReel, "r/1", "a b"))
	assert.Equal(t,
		"wss://api.factline.test/api/v1/posts/p-1/processing-ws?token=tok",
		svc.WebSocketURL(KindPost, "p-1", "tok"))
	assert.Equal(t,
		"https://api.factline.test/api/v1/posts/p-1/processing-stream",
		svc.StreamURL(KindPost, "p-1", ""))
}
