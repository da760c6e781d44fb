package telegram

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teledrive-go/internal/config"
	"teledrive-go/internal/model"
)

const testToken = "123:abc"

// fakeBotAPI 模拟 Bot API 的几个方法，记录收到的请求。
type fakeBotAPI struct {
	mu        sync.Mutex
	caption   string
	fileName  string
	deleted   []string
	fileBytes string
}

func (f *fakeBotAPI) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/bot"+testToken+"/getMe", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"drive","username":"drive_bot"}}`)
	})
	mux.HandleFunc("/bot"+testToken+"/sendDocument", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, header, err := r.FormFile("document")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.caption = r.FormValue("caption")
		f.fileName = header.Filename
		f.mu.Unlock()
		io.WriteString(w, `{"ok":true,"result":{"message_id":77,"date":0,"chat":{"id":-1001,"type":"channel"},"document":{"file_id":"BQAC","file_unique_id":"u1"}}}`)
	})
	mux.HandleFunc("/bot"+testToken+"/deleteMessage", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		f.mu.Lock()
		f.deleted = append(f.deleted, r.FormValue("chat_id")+":"+r.FormValue("message_id"))
		f.mu.Unlock()
		io.WriteString(w, `{"ok":true,"result":true}`)
	})
	mux.HandleFunc("/bot"+testToken+"/getFile", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.FormValue("file_id") == "huge" {
			io.WriteString(w, `{"ok":true,"result":{"file_id":"huge","file_unique_id":"h","file_size":999999999,"file_path":"documents/huge.bin"}}`)
			return
		}
		io.WriteString(w, `{"ok":true,"result":{"file_id":"BQAC","file_unique_id":"u1","file_size":5,"file_path":"documents/file_1.pdf"}}`)
	})
	mux.HandleFunc("/file/bot"+testToken+"/documents/file_1.pdf", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, f.fileBytes)
	})
	return mux
}

func newTestClient(t *testing.T, fake *fakeBotAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	bot, err := tgbotapi.NewBotAPIWithClient(testToken, srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)
	c := NewClient(bot, config.TelegramConfig{ChatID: -1001, MaxDownloadBytes: 20 << 20})
	c.fileEndpoint = srv.URL + "/file/bot%s/%s"
	return c
}

func TestClient_Relay(t *testing.T) {
	fake := &fakeBotAPI{}
	c := newTestClient(t, fake)

	path := filepath.Join(t.TempDir(), "document_1700000000000_a1b2c3d4.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-"), 0o644))

	rec := model.FileRecord{ID: "abc123def456", StoredName: filepath.Base(path)}
	ref, err := c.Relay(context.Background(), rec, path, "Report.pdf", "Report.pdf\n5 B")
	require.NoError(t, err)

	assert.Equal(t, Provider, ref.Provider)
	assert.Equal(t, "BQAC", ref.FileID)
	assert.Equal(t, 77, ref.MessageID)
	assert.Equal(t, int64(-1001), ref.ChatID)
	assert.False(t, ref.RelayedAt.IsZero())
	assert.Equal(t, "Report.pdf\n5 B", fake.caption)
	assert.Equal(t, "Report.pdf", fake.fileName)
}

func TestClient_RelayWithoutChat(t *testing.T) {
	c := newTestClient(t, &fakeBotAPI{})
	c.chatID = 0
	_, err := c.Relay(context.Background(), model.FileRecord{}, "unused", "x", "")
	assert.Error(t, err)
}

func TestClient_DeleteRemote(t *testing.T) {
	fake := &fakeBotAPI{}
	c := newTestClient(t, fake)

	require.NoError(t, c.DeleteRemote(context.Background(), model.RemoteReference{ChatID: -1001, MessageID: 77}))
	// 没有消息 ID 的引用（例如 MinIO 镜像）直接忽略
	require.NoError(t, c.DeleteRemote(context.Background(), model.RemoteReference{}))
	assert.Equal(t, []string{"-1001:77"}, fake.deleted)
}

func TestClient_OpenRemoteAndDownloadLimit(t *testing.T) {
	fake := &fakeBotAPI{fileBytes: "hello"}
	c := newTestClient(t, fake)

	content, err := c.OpenRemote(context.Background(), model.RemoteReference{Provider: Provider, FileID: "BQAC"})
	require.NoError(t, err)
	defer content.Body.Close()
	data, err := io.ReadAll(content.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.Equal(t, int64(5), content.Size)
	assert.Empty(t, content.RedirectURL)

	_, _, err = c.Download(context.Background(), "huge")
	assert.ErrorIs(t, err, ErrTooLarge)

	_, _, err = c.Download(context.Background(), "")
	assert.Error(t, err)
}

func TestMessageFileID(t *testing.T) {
	msg := tgbotapi.Message{Photo: []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}}}
	assert.Equal(t, "large", messageFileID(msg))
	assert.Equal(t, "", messageFileID(tgbotapi.Message{}))
	assert.True(t, strings.HasPrefix(messageFileID(tgbotapi.Message{Video: &tgbotapi.Video{FileID: "vid"}}), "vid"))
}
