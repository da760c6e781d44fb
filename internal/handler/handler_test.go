package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teledrive-go/internal/config"
	"teledrive-go/internal/repository"
	"teledrive-go/internal/service"
	"teledrive-go/pkg/events"
	"teledrive-go/pkg/hash"
	"teledrive-go/pkg/naming"
	"teledrive-go/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router *gin.Engine
	dir    string
}

func newTestServer(t *testing.T, maxBytes int64) *testServer {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "uploads")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	repo, err := repository.NewJSONFileRepository(filepath.Join(root, "files.json"))
	require.NoError(t, err)

	pw, err := hash.HashPassword("s3cret")
	require.NoError(t, err)
	jwtManager := token.NewJWTManager("secret", 1, 24)
	hub := events.NewHub(8)
	in := service.Integrations{Events: hub}

	router := NewRouter(Deps{
		Uploads: service.NewUploadService(repo, naming.NewGenerator(),
			config.StorageConfig{UploadDir: dir, MaxUploadBytes: maxBytes}, config.NamingConfig{}, in),
		Files: service.NewFileService(repo, dir, in),
		Auth:  service.NewAuthService(config.AdminConfig{Username: "admin", PasswordHash: pw}, jwtManager),
		JWT:   jwtManager,
		Hub:   hub,
	})
	return &testServer{router: router, dir: dir}
}

func (s *testServer) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) upload(t *testing.T, name, content string) (*httptest.ResponseRecorder, service.FileView) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := s.do(t, req)

	var view service.FileView
	if w.Code == http.StatusCreated {
		var env envelope
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
		require.NoError(t, json.Unmarshal(env.Data, &view))
	}
	return w, view
}

func (s *testServer) login(t *testing.T) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"admin","password":"s3cret"}`))
	req.Header.Set("Content-Type", "application/json")
	w := s.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var data struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	return data.Token
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, 1<<20)
	w := s.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUploadListAndDownload(t *testing.T) {
	s := newTestServer(t, 1<<20)

	w, view := s.upload(t, "Quarterly Report.pdf", "%PDF-1.4 hello")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Quarterly Report.pdf", view.DisplayName)
	assert.Equal(t, naming.SourceExplicit, view.DisplayNameSource)
	assert.FileExists(t, filepath.Join(s.dir, view.StoredName))

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/files?type=document&limit=10", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var views []service.FileView
	require.NoError(t, json.Unmarshal(env.Data, &views))
	require.Len(t, views, 1)
	assert.Equal(t, view.ID, views[0].ID)

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/files/"+view.ID+"/download", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF-1.4 hello", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Disposition"), `filename="Quarterly Report.pdf"`)

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/files/search?q=quarterly", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), view.ID)

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/files/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)
}

func TestUploadErrors(t *testing.T) {
	s := newTestServer(t, 16)

	w, _ := s.upload(t, "empty.txt", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = s.upload(t, "big.txt", strings.Repeat("x", 64))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files", strings.NewReader("not multipart"))
	assert.Equal(t, http.StatusBadRequest, s.do(t, req).Code)

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/files?type=spreadsheet", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/files/doesnotexist", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminOperations(t *testing.T) {
	s := newTestServer(t, 1<<20)
	_, view := s.upload(t, "notes.txt", "hello world")

	req := httptest.NewRequest(http.MethodPut, "/api/v1/files/"+view.ID+"/name", strings.NewReader(`{"name":"renamed.txt"}`))
	req.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnauthorized, s.do(t, req).Code)

	bad := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(`{"username":"admin","password":"nope"}`))
	bad.Header.Set("Content-Type", "application/json")
	assert.Equal(t, http.StatusUnauthorized, s.do(t, bad).Code)

	bearer := "Bearer " + s.login(t)

	req = httptest.NewRequest(http.MethodPut, "/api/v1/files/"+view.ID+"/name", strings.NewReader(`{"name":"renamed.txt"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer)
	w := s.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"displayName":"renamed.txt"`)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/files/"+view.ID+"/share", nil)
	req.Header.Set("Authorization", bearer)
	w = s.do(t, req)
	require.Equal(t, http.StatusOK, w.Code)
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	var link struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &link))

	w = s.do(t, httptest.NewRequest(http.MethodGet, link.URL, nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "hello world", w.Body.String())

	w = s.do(t, httptest.NewRequest(http.MethodGet, "/s/not-a-token", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/files/"+view.ID, nil)
	req.Header.Set("Authorization", bearer)
	require.Equal(t, http.StatusOK, s.do(t, req).Code)
	assert.NoFileExists(t, filepath.Join(s.dir, view.StoredName))

	// 文件删除后分享链接失效
	w = s.do(t, httptest.NewRequest(http.MethodGet, link.URL, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContentDisposition(t *testing.T) {
	assert.Equal(t, `attachment; filename=report.pdf`, contentDisposition("report.pdf"))
	assert.Equal(t, `attachment; filename*=utf-8''%E6%8A%A5%E5%91%8A.pdf`, contentDisposition("报告.pdf"))
}
