// Package telegram 封装了与 Telegram Bot API 的交互：转发文件到频道、删除消息、下载文件。
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"teledrive-go/internal/config"
	"teledrive-go/internal/model"
	"teledrive-go/internal/service"
	"teledrive-go/pkg/log"
)

// Provider 是远端引用中 Telegram 副本的标识。
const Provider = "telegram"

// ErrTooLarge 表示文件超过 Bot API 允许下载的大小。
var ErrTooLarge = errors.New("telegram file exceeds the download limit")

// Bot 是全局的机器人实例，未配置 token 时为 nil。
var Bot *tgbotapi.BotAPI

// InitBot 初始化全局机器人实例。
func InitBot(cfg config.TelegramConfig) error {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("初始化 Telegram 机器人失败: %w", err)
	}
	Bot = bot
	log.Infof("Telegram 机器人初始化成功: @%s", bot.Self.UserName)
	return nil
}

// Client 在指定的会话中转发和管理文件，同时实现 service.RemoteStore。
type Client struct {
	bot          *tgbotapi.BotAPI
	chatID       int64
	maxDownload  int64
	fileEndpoint string
	http         *http.Client
}

// NewClient 创建客户端。chatID 为 0 时 Relay 不可用，但仍可下载和删除。
func NewClient(bot *tgbotapi.BotAPI, cfg config.TelegramConfig) *Client {
	return &Client{
		bot:          bot,
		chatID:       cfg.ChatID,
		maxDownload:  cfg.MaxDownloadBytes,
		fileEndpoint: tgbotapi.FileEndpoint,
		http:         &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *Client) Provider() string {
	return Provider
}

// Relay 以文档形式把本地文件发送到配置的会话，Telegram 中显示的文件名为 displayName。
func (c *Client) Relay(ctx context.Context, rec model.FileRecord, localPath, displayName, caption string) (*model.RemoteReference, error) {
	if c.chatID == 0 {
		return nil, errors.New("telegram chat_id 未配置")
	}
	f, err := os.Open(localPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc := tgbotapi.NewDocument(c.chatID, tgbotapi.FileReader{Name: displayName, Reader: f})
	doc.Caption = caption
	msg, err := c.bot.Send(doc)
	if err != nil {
		return nil, fmt.Errorf("sendDocument 失败: %w", err)
	}

	ref := &model.RemoteReference{
		Provider:  Provider,
		FileID:    messageFileID(msg),
		MessageID: msg.MessageID,
		ChatID:    c.chatID,
		RelayedAt: time.Now().UTC(),
	}
	if msg.Chat != nil {
		ref.ChatID = msg.Chat.ID
	}
	log.Infof("[Telegram] 文件已转发, id=%s, messageId=%d", rec.ID, ref.MessageID)
	return ref, nil
}

// DeleteRemote 删除转发时产生的消息。
func (c *Client) DeleteRemote(ctx context.Context, ref model.RemoteReference) error {
	if ref.MessageID == 0 || ref.ChatID == 0 {
		return nil
	}
	if _, err := c.bot.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID)); err != nil {
		return fmt.Errorf("deleteMessage 失败: %w", err)
	}
	return nil
}

// OpenRemote 通过服务端代理读取文件，避免把带 token 的下载链接暴露给客户端。
func (c *Client) OpenRemote(ctx context.Context, ref model.RemoteReference) (*service.RemoteContent, error) {
	body, size, err := c.Download(ctx, ref.FileID)
	if err != nil {
		return nil, err
	}
	return &service.RemoteContent{Body: body, Size: size}, nil
}

// Download 下载指定 file_id 的内容，超过 maxDownload 时返回 ErrTooLarge。
func (c *Client) Download(ctx context.Context, fileID string) (io.ReadCloser, int64, error) {
	if fileID == "" {
		return nil, 0, errors.New("缺少 file_id")
	}
	file, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		return nil, 0, fmt.Errorf("getFile 失败: %w", err)
	}
	if c.maxDownload > 0 && int64(file.FileSize) > c.maxDownload {
		return nil, 0, ErrTooLarge
	}

	link := fmt.Sprintf(c.fileEndpoint, c.bot.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("下载 Telegram 文件失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("下载 Telegram 文件失败: HTTP %d", resp.StatusCode)
	}
	return resp.Body, int64(file.FileSize), nil
}

// messageFileID 取出消息中附件的 file_id。图片取最大尺寸。
func messageFileID(msg tgbotapi.Message) string {
	switch {
	case msg.Document != nil:
		return msg.Document.FileID
	case msg.Animation != nil:
		return msg.Animation.FileID
	case msg.Video != nil:
		return msg.Video.FileID
	case msg.Audio != nil:
		return msg.Audio.FileID
	case msg.Voice != nil:
		return msg.Voice.FileID
	case len(msg.Photo) > 0:
		return msg.Photo[len(msg.Photo)-1].FileID
	}
	return ""
}
