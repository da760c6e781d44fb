package es

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teledrive-go/internal/model"
)

type fakeES struct {
	mu       sync.Mutex
	indexed  map[string]model.FileSearchDoc
	lastBody map[string]any
}

func (f *fakeES) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/files/_doc/"):
		var doc model.FileSearchDoc
		_ = json.NewDecoder(r.Body).Decode(&doc)
		f.indexed[strings.TrimPrefix(r.URL.Path, "/files/_doc/")] = doc
		io.WriteString(w, `{"result":"created"}`)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/files/_doc/"):
		id := strings.TrimPrefix(r.URL.Path, "/files/_doc/")
		if _, ok := f.indexed[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"result":"not_found"}`)
			return
		}
		delete(f.indexed, id)
		io.WriteString(w, `{"result":"deleted"}`)
	case strings.HasSuffix(r.URL.Path, "/_search"):
		_ = json.NewDecoder(r.Body).Decode(&f.lastBody)
		io.WriteString(w, `{"hits":{"hits":[{"_id":"b","_score":2.5},{"_id":"a","_score":1.0}]}}`)
	default:
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"unexpected request"}`)
	}
}

func newTestIndex(t *testing.T) (*FileIndex, *fakeES) {
	t.Helper()
	fake := &fakeES{indexed: make(map[string]model.FileSearchDoc)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewFileIndex(client, "files"), fake
}

func TestFileIndex_IndexAndDelete(t *testing.T) {
	idx, fake := newTestIndex(t)
	ctx := context.Background()

	doc := model.FileSearchDoc{
		ID:          "abc123def456",
		DisplayName: "Quarterly Report.pdf",
		StoredName:  "document_1700000000000_a1b2c3d4.pdf",
		FileType:    model.FileTypeDocument,
		SizeBytes:   2048,
		UploadedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, idx.IndexFile(ctx, doc))
	assert.Equal(t, "Quarterly Report.pdf", fake.indexed["abc123def456"].DisplayName)

	require.NoError(t, idx.DeleteFile(ctx, "abc123def456"))
	assert.Empty(t, fake.indexed)
	// 重复删除不是错误
	require.NoError(t, idx.DeleteFile(ctx, "abc123def456"))
}

func TestFileIndex_SearchFiles(t *testing.T) {
	idx, fake := newTestIndex(t)

	hits, err := idx.SearchFiles(context.Background(), "Report", 5)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "b", hits[0].ID)
	assert.Equal(t, 2.5, hits[0].Score)

	assert.EqualValues(t, 5, fake.lastBody["size"])
}

func TestSearchBody(t *testing.T) {
	body := searchBody("Rep", 3)
	data, err := json.Marshal(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"*rep*"`)
	assert.Contains(t, string(data), `"minimum_should_match":1`)
}
