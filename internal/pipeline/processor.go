// Package pipeline 定义了文件转发的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"teledrive-go/internal/config"
	"teledrive-go/internal/model"
	"teledrive-go/internal/service"
	"teledrive-go/pkg/log"
	"teledrive-go/pkg/tasks"
)

// Telegram 对 caption 的长度限制。
const maxCaptionRunes = 1024

// Relayer 把一个本地文件复制到远端，返回远端句柄。
type Relayer interface {
	Provider() string
	Relay(ctx context.Context, rec model.FileRecord, localPath, displayName, caption string) (*model.RemoteReference, error)
}

// Processor 封装了文件转发的所有依赖和逻辑。
type Processor struct {
	files       service.FileService
	relayers    []Relayer
	deleteLocal bool
}

// NewProcessor 创建一个新的 Processor 实例。relayers 的顺序决定哪个远端句柄被写入记录。
func NewProcessor(files service.FileService, relayers []Relayer, relayCfg config.RelayConfig) *Processor {
	return &Processor{
		files:       files,
		relayers:    relayers,
		deleteLocal: relayCfg.DeleteLocalAfterRelay,
	}
}

// Process 是文件转发的主函数。返回错误表示任务可以重试。
func (p *Processor) Process(ctx context.Context, task tasks.RelayTask) error {
	log.Infof("[Processor] 开始转发文件, fileID=%s, storedName=%s, attempt=%d", task.FileID, task.StoredName, task.Attempt)

	if len(p.relayers) == 0 {
		log.Debugf("[Processor] 未配置任何远端，跳过 fileID=%s", task.FileID)
		return nil
	}

	// 1. 读取记录
	view, err := p.files.Get(ctx, task.FileID)
	if errors.Is(err, service.ErrFileNotFound) {
		log.Warnf("[Processor] 记录已不存在，放弃任务, fileID=%s", task.FileID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取文件记录失败: %w", err)
	}
	if view.Relayed() {
		log.Infof("[Processor] 文件已转发过，跳过, fileID=%s, provider=%s", task.FileID, view.Remote.Provider)
		return nil
	}

	// 2. 定位本地文件。文件缺失无法通过重试恢复，只记录错误说明。
	localPath, err := p.files.LocalPath(view.FileRecord)
	if err != nil {
		return p.giveUp(ctx, task.FileID, err)
	}
	if _, err := os.Stat(localPath); err != nil {
		return p.giveUp(ctx, task.FileID, fmt.Errorf("本地文件不可读: %w", err))
	}

	// 3. 依次发送到每个远端
	caption := Caption(*view)
	var first *model.RemoteReference
	var errs []error
	for _, r := range p.relayers {
		ref, err := r.Relay(ctx, view.FileRecord, localPath, view.DisplayName, caption)
		if err != nil {
			log.Errorf("[Processor] 转发到 %s 失败, fileID=%s, error=%v", r.Provider(), task.FileID, err)
			errs = append(errs, fmt.Errorf("%s: %w", r.Provider(), err))
			continue
		}
		log.Infof("[Processor] 已转发到 %s, fileID=%s", r.Provider(), task.FileID)
		if first == nil {
			first = ref
		}
	}

	// 4. 写回结果
	if first == nil {
		joined := errors.Join(errs...)
		if err := p.files.AttachRelayResult(ctx, task.FileID, nil, joined); err != nil {
			log.Errorf("[Processor] 写入转发错误失败, fileID=%s, error=%v", task.FileID, err)
		}
		return joined
	}
	if err := p.files.AttachRelayResult(ctx, task.FileID, first, nil); err != nil {
		return fmt.Errorf("写入转发结果失败: %w", err)
	}

	if p.deleteLocal {
		if err := p.files.ReleaseLocalCopy(ctx, task.FileID); err != nil {
			log.Warnf("[Processor] 释放本地副本失败, fileID=%s, error=%v", task.FileID, err)
		}
	}
	log.Infof("[Processor] 文件转发完成, fileID=%s", task.FileID)
	return nil
}

func (p *Processor) giveUp(ctx context.Context, id string, cause error) error {
	log.Errorf("[Processor] 无法转发文件, fileID=%s, error=%v", id, cause)
	if err := p.files.AttachRelayResult(ctx, id, nil, cause); err != nil && !errors.Is(err, service.ErrFileNotFound) {
		return err
	}
	return nil
}

// Caption 生成远端消息的说明文字：显示名称、大小和上传者。
func Caption(view service.FileView) string {
	text := fmt.Sprintf("%s\n%s · %s", view.DisplayName, humanize.Bytes(uint64(view.FileSizeBytes)), view.Uploader)
	if utf8.RuneCountInString(text) <= maxCaptionRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxCaptionRunes-1]) + "…"
}
