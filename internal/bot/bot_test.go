package bot

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teledrive-go/internal/config"
	"teledrive-go/internal/model"
	"teledrive-go/internal/repository"
	"teledrive-go/internal/service"
	"teledrive-go/pkg/naming"
	"teledrive-go/pkg/telegram"
)

type fakeSender struct {
	texts []string
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		s.texts = append(s.texts, m.Text)
	}
	return tgbotapi.Message{}, nil
}

func (s *fakeSender) last() string {
	if len(s.texts) == 0 {
		return ""
	}
	return s.texts[len(s.texts)-1]
}

type fakeDownloader struct {
	content map[string]string
	err     error
}

func (d *fakeDownloader) Download(_ context.Context, fileID string) (io.ReadCloser, int64, error) {
	if d.err != nil {
		return nil, 0, d.err
	}
	body, ok := d.content[fileID]
	if !ok {
		return nil, 0, errors.New("file not found")
	}
	return io.NopCloser(strings.NewReader(body)), int64(len(body)), nil
}

func newTestBot(t *testing.T, dl *fakeDownloader) (*Bot, *fakeSender, service.FileService) {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "uploads")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	repo, err := repository.NewJSONFileRepository(filepath.Join(root, "files.json"))
	require.NoError(t, err)

	uploads := service.NewUploadService(repo, naming.NewGenerator(),
		config.StorageConfig{UploadDir: dir, MaxUploadBytes: 1 << 20}, config.NamingConfig{}, service.Integrations{})
	files := service.NewFileService(repo, dir, service.Integrations{})
	sender := &fakeSender{}
	b := &Bot{sender: sender, downloader: dl, uploads: uploads, files: files, maxDownload: 1024}
	return b, sender, files
}

func incoming(text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 42},
		Chat:      &tgbotapi.Chat{ID: 42},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(strings.Fields(text)[0])}}
	}
	return msg
}

func TestBot_Commands(t *testing.T) {
	b, sender, _ := newTestBot(t, &fakeDownloader{})
	ctx := context.Background()

	b.HandleUpdate(ctx, tgbotapi.Update{Message: incoming("/start")})
	assert.Contains(t, sender.last(), "/list")

	b.HandleUpdate(ctx, tgbotapi.Update{Message: incoming("/list")})
	assert.Equal(t, "网盘里还没有文件。", sender.last())

	b.HandleUpdate(ctx, tgbotapi.Update{Message: incoming("/unknown")})
	assert.Contains(t, sender.last(), "未知命令")

	b.HandleUpdate(ctx, tgbotapi.Update{Message: incoming("hello")})
	assert.Contains(t, sender.last(), "请发送文件")

	// 没有消息的更新被忽略
	b.HandleUpdate(ctx, tgbotapi.Update{})
	assert.Len(t, sender.texts, 4)
}

func TestBot_SavesDocument(t *testing.T) {
	b, sender, files := newTestBot(t, &fakeDownloader{content: map[string]string{"doc-1": "%PDF-1.4 body"}})
	ctx := context.Background()

	msg := incoming("")
	msg.From = &tgbotapi.User{ID: 42, UserName: "lan"}
	msg.Document = &tgbotapi.Document{FileID: "doc-1", FileName: "Quarterly Report.pdf", MimeType: "application/pdf", FileSize: 13}
	b.HandleUpdate(ctx, tgbotapi.Update{Message: msg})
	assert.Equal(t, "已保存：Quarterly Report.pdf（13 B）", sender.last())

	views, err := files.List(ctx, service.ListOptions{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	v := views[0]
	assert.Equal(t, model.FileTypeDocument, v.FileType)
	assert.Equal(t, "telegram", v.Uploader.Source)
	assert.Equal(t, "42", v.Uploader.ID)
	assert.Equal(t, "@lan", v.Uploader.Name)
	require.NotNil(t, v.Remote)
	assert.Equal(t, telegram.Provider, v.Remote.Provider)
	assert.Equal(t, "doc-1", v.Remote.FileID)
	assert.Equal(t, 7, v.Remote.MessageID)

	b.HandleUpdate(ctx, tgbotapi.Update{Message: incoming("/list")})
	assert.Contains(t, sender.last(), "1. Quarterly Report.pdf · 13 B")
}

func TestBot_SavesLargestPhoto(t *testing.T) {
	b, sender, files := newTestBot(t, &fakeDownloader{content: map[string]string{"big": "\xff\xd8\xff\xe0 jpeg"}})
	ctx := context.Background()

	msg := incoming("")
	msg.From = &tgbotapi.User{ID: 42, FirstName: "Lan", LastName: "Chen"}
	msg.Photo = []tgbotapi.PhotoSize{{FileID: "small", FileSize: 3}, {FileID: "big", FileSize: 9}}
	b.HandleUpdate(ctx, tgbotapi.Update{Message: msg})
	assert.Contains(t, sender.last(), "已保存")

	views, err := files.List(ctx, service.ListOptions{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, model.FileTypePhoto, views[0].FileType)
	assert.True(t, strings.HasPrefix(views[0].StoredName, "photo_"))
	assert.Empty(t, views[0].OriginalName)
	assert.Equal(t, "Lan Chen", views[0].Uploader.Name)
}

func TestBot_RejectsOversizedAndFailedDownloads(t *testing.T) {
	b, sender, files := newTestBot(t, &fakeDownloader{err: telegram.ErrTooLarge})
	ctx := context.Background()

	msg := incoming("")
	msg.Video = &tgbotapi.Video{FileID: "v", FileName: "clip.mp4", FileSize: 4096}
	b.HandleUpdate(ctx, tgbotapi.Update{Message: msg})
	assert.Contains(t, sender.last(), "文件太大")

	msg = incoming("")
	msg.Audio = &tgbotapi.Audio{FileID: "a", FileName: "song.mp3", FileSize: 10}
	b.HandleUpdate(ctx, tgbotapi.Update{Message: msg})
	assert.Equal(t, "文件太大，机器人无法下载。", sender.last())

	views, err := files.List(ctx, service.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, views)
}
