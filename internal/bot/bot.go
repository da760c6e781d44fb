// Package bot 实现 Telegram 机器人：接收用户发送的文件并保存到网盘。
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"teledrive-go/internal/config"
	"teledrive-go/internal/model"
	"teledrive-go/internal/service"
	"teledrive-go/pkg/log"
	"teledrive-go/pkg/naming"
	"teledrive-go/pkg/telegram"
)

const (
	listSize    = 10
	pollTimeout = 30

	helpText = "把文件、图片、视频或音频发给我，我会把它保存到网盘。\n\n" +
		"/list 查看最近上传的 10 个文件\n" +
		"/help 显示本帮助"
)

// Sender 是机器人发送消息所需的 Bot API 子集。
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Downloader 按 file_id 下载用户发送的文件。
type Downloader interface {
	Download(ctx context.Context, fileID string) (io.ReadCloser, int64, error)
}

// Bot 通过长轮询处理更新。
type Bot struct {
	api         *tgbotapi.BotAPI
	sender      Sender
	downloader  Downloader
	uploads     service.UploadService
	files       service.FileService
	maxDownload int64
}

// New 创建机器人。
func New(api *tgbotapi.BotAPI, downloader Downloader, uploads service.UploadService, files service.FileService, cfg config.TelegramConfig) *Bot {
	return &Bot{
		api:         api,
		sender:      api,
		downloader:  downloader,
		uploads:     uploads,
		files:       files,
		maxDownload: cfg.MaxDownloadBytes,
	}
}

// Run 开始长轮询，直到 ctx 取消。
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(u)
	log.Infof("[Bot] 开始接收 Telegram 更新")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			log.Info("[Bot] 已停止接收更新")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate 处理单个更新，错误以回复的形式告知用户。
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	att, found := attachmentOf(msg)
	if !found {
		b.reply(msg, "请发送文件、图片、视频或音频。输入 /help 查看说明。")
		return
	}
	b.handleAttachment(ctx, msg, att)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		b.reply(msg, helpText)
	case "list":
		views, err := b.files.List(ctx, service.ListOptions{Limit: listSize})
		if err != nil {
			log.Errorf("[Bot] 获取文件列表失败: %v", err)
			b.reply(msg, "获取文件列表失败，请稍后再试。")
			return
		}
		b.reply(msg, formatList(views))
	default:
		b.reply(msg, "未知命令。输入 /help 查看说明。")
	}
}

func (b *Bot) handleAttachment(ctx context.Context, msg *tgbotapi.Message, att attachment) {
	if b.maxDownload > 0 && att.Size > b.maxDownload {
		b.reply(msg, fmt.Sprintf("文件太大（%s），机器人最多只能下载 %s。",
			humanize.Bytes(uint64(att.Size)), humanize.Bytes(uint64(b.maxDownload))))
		return
	}

	body, size, err := b.downloader.Download(ctx, att.FileID)
	if err != nil {
		log.Errorf("[Bot] 下载文件失败, fileID=%s, error=%v", att.FileID, err)
		if errors.Is(err, telegram.ErrTooLarge) {
			b.reply(msg, "文件太大，机器人无法下载。")
			return
		}
		b.reply(msg, "下载文件失败，请稍后再试。")
		return
	}
	defer body.Close()

	declared := att.Size
	if declared <= 0 {
		declared = size
	}
	if declared <= 0 {
		declared = -1
	}

	rec, err := b.uploads.Ingest(ctx, service.UploadRequest{
		OriginalName: att.Name,
		MimeType:     att.MimeType,
		DeclaredSize: declared,
		Class:        att.Class,
		Uploader:     uploaderOf(msg),
		Body:         body,
		Remote: &model.RemoteReference{
			Provider:  telegram.Provider,
			FileID:    att.FileID,
			MessageID: msg.MessageID,
			ChatID:    msg.Chat.ID,
		},
	})
	if err != nil {
		log.Errorf("[Bot] 保存文件失败, fileID=%s, error=%v", att.FileID, err)
		switch {
		case errors.Is(err, service.ErrFileTooLarge):
			b.reply(msg, "文件超过网盘的大小限制。")
		case errors.Is(err, service.ErrEmptyFile):
			b.reply(msg, "文件是空的。")
		default:
			b.reply(msg, "保存文件失败，请稍后再试。")
		}
		return
	}

	view := service.NewFileView(*rec)
	b.reply(msg, fmt.Sprintf("已保存：%s（%s）", view.DisplayName, humanize.Bytes(uint64(rec.FileSizeBytes))))
}

func (b *Bot) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := b.sender.Send(out); err != nil {
		log.Warnf("[Bot] 发送回复失败, chatId=%d, error=%v", msg.Chat.ID, err)
	}
}

// attachment 是消息中可保存的附件。
type attachment struct {
	FileID   string
	Name     string
	MimeType string
	Size     int64
	Class    naming.FileClass
}

// attachmentOf 提取消息中的附件。图片取最大尺寸；图片没有文件名。
func attachmentOf(msg *tgbotapi.Message) (attachment, bool) {
	switch {
	case msg.Document != nil:
		d := msg.Document
		return attachment{FileID: d.FileID, Name: d.FileName, MimeType: d.MimeType, Size: int64(d.FileSize)}, true
	case len(msg.Photo) > 0:
		p := msg.Photo[len(msg.Photo)-1]
		return attachment{FileID: p.FileID, MimeType: "image/jpeg", Size: int64(p.FileSize), Class: naming.ClassPhoto}, true
	case msg.Video != nil:
		v := msg.Video
		return attachment{FileID: v.FileID, Name: v.FileName, MimeType: v.MimeType, Size: int64(v.FileSize), Class: naming.ClassVideo}, true
	case msg.Audio != nil:
		a := msg.Audio
		return attachment{FileID: a.FileID, Name: a.FileName, MimeType: a.MimeType, Size: int64(a.FileSize), Class: naming.ClassAudio}, true
	case msg.Voice != nil:
		v := msg.Voice
		return attachment{FileID: v.FileID, MimeType: v.MimeType, Size: int64(v.FileSize), Class: naming.ClassAudio}, true
	}
	return attachment{}, false
}

func uploaderOf(msg *tgbotapi.Message) model.Uploader {
	if msg.From == nil {
		return model.Uploader{Source: "telegram", ID: strconv.FormatInt(msg.Chat.ID, 10)}
	}
	name := strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
	if msg.From.UserName != "" {
		name = "@" + msg.From.UserName
	}
	return model.Uploader{Source: "telegram", ID: strconv.FormatInt(msg.From.ID, 10), Name: name}
}

func formatList(views []service.FileView) string {
	if len(views) == 0 {
		return "网盘里还没有文件。"
	}
	var sb strings.Builder
	sb.WriteString("最近上传的文件：\n")
	for i, v := range views {
		fmt.Fprintf(&sb, "%d. %s · %s\n", i+1, v.DisplayName, humanize.Bytes(uint64(v.FileSizeBytes)))
	}
	return strings.TrimRight(sb.String(), "\n")
}
