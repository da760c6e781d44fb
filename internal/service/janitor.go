package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"teledrive-go/internal/config"
	"teledrive-go/internal/model"
	"teledrive-go/internal/repository"
	"teledrive-go/pkg/log"
	"teledrive-go/pkg/naming"
)

// Janitor 负责上传目录的例行清理：删除过期的半写文件，导入没有记录的孤儿文件。
type Janitor struct {
	repo          repository.FileRepository
	uploadDir     string
	maxAge        time.Duration
	importOrphans bool
	in            Integrations
	now           func() time.Time
}

// NewJanitor 根据存储配置创建 Janitor。
func NewJanitor(repo repository.FileRepository, cfg config.StorageConfig, in Integrations) (*Janitor, error) {
	maxAge := time.Hour
	if cfg.TempMaxAge != "" {
		d, err := time.ParseDuration(cfg.TempMaxAge)
		if err != nil {
			return nil, fmt.Errorf("storage.temp_max_age 无效: %w", err)
		}
		maxAge = d
	}
	return &Janitor{
		repo:          repo,
		uploadDir:     cfg.UploadDir,
		maxAge:        maxAge,
		importOrphans: cfg.ImportOrphans,
		in:            in,
		now:           time.Now,
	}, nil
}

// Run 立即执行一轮，然后按 interval 周期执行，直到 ctx 取消。
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	j.runOnce(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("[Janitor] 已停止")
			return
		case <-ticker.C:
			j.runOnce(ctx)
		}
	}
}

func (j *Janitor) runOnce(ctx context.Context) {
	if _, err := j.CleanIncoming(ctx); err != nil {
		log.Warnf("[Janitor] 清理临时文件失败: %v", err)
	}
	if j.importOrphans {
		if _, err := j.ImportOrphans(ctx); err != nil {
			log.Warnf("[Janitor] 导入孤儿文件失败: %v", err)
		}
	}
}

// CleanIncoming 删除 .incoming 下超过 maxAge 的 .part 文件，返回删除数量。
func (j *Janitor) CleanIncoming(ctx context.Context) (int, error) {
	dir := filepath.Join(j.uploadDir, incomingDir)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := j.now().Add(-j.maxAge)
	removed := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return removed, ctx.Err()
		}
		if e.IsDir() || !strings.HasSuffix(e.Name(), partSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			log.Warnf("[Janitor] 删除临时文件失败, name=%s, error=%v", e.Name(), err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Infof("[Janitor] 已删除 %d 个过期临时文件", removed)
	}
	return removed, nil
}

// ImportOrphans 为上传目录中没有记录的普通文件补建记录。
// 隐藏文件、目录、空文件以及修改时间在 maxAge 之内的文件会被跳过（后者可能是
// 刚落盘、记录尚未追加的上传），显示名称交给 Recover 从文件名推断。
func (j *Janitor) ImportOrphans(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(j.uploadDir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	cutoff := j.now().Add(-j.maxAge)
	imported := 0
	for _, e := range entries {
		if ctx.Err() != nil {
			return imported, ctx.Err()
		}
		name := e.Name()
		if !e.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if info.Size() == 0 {
			log.Warnf("[Janitor] 跳过空文件, name=%s", name)
			continue
		}
		if _, err := j.repo.FindByStoredName(ctx, name); err == nil {
			continue
		} else if !errors.Is(err, repository.ErrRecordNotFound) {
			return imported, err
		}

		rec, err := j.orphanRecord(name)
		if err != nil {
			log.Warnf("[Janitor] 读取孤儿文件失败, name=%s, error=%v", name, err)
			continue
		}
		if err := j.repo.Append(ctx, rec); err != nil {
			log.Warnf("[Janitor] 导入孤儿文件失败, name=%s, error=%v", name, err)
			continue
		}
		view := NewFileView(*rec)
		j.in.index(ctx, view)
		j.in.publish(EventFileCreated, view)
		imported++
	}
	if imported > 0 {
		log.Infof("[Janitor] 已导入 %d 个孤儿文件", imported)
	}
	return imported, nil
}

func (j *Janitor) orphanRecord(name string) (*model.FileRecord, error) {
	path, err := resolveInRoot(j.uploadDir, name)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, ErrEmptyFile
	}

	class := naming.ClassFromName(name)
	mimeType := ""
	if mt, err := mimetype.DetectFile(path); err == nil {
		mimeType = normalizeMIME(mt.String())
		if class == naming.ClassDocument && mimeType != genericMIME && !strings.HasPrefix(mimeType, "text/plain") {
			class = naming.ClassFromMIME(mimeType)
		}
	}

	return &model.FileRecord{
		ID:            repository.NewRecordID(),
		StoredName:    name,
		FileType:      fileTypeOf(class),
		MimeType:      mimeType,
		FileSizeBytes: info.Size(),
		StoredPath:    name,
		UploadedAt:    info.ModTime().UTC(),
		Uploader:      model.Uploader{Source: "import", ID: "sync"},
	}, nil
}
