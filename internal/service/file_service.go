package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"teledrive-go/internal/model"
	"teledrive-go/internal/repository"
	"teledrive-go/pkg/log"
	"teledrive-go/pkg/naming"
)

// ListOptions 过滤文件列表。Limit 小于等于 0 表示不限制。
type ListOptions struct {
	Query string
	Type  model.FileType
	Limit int
}

// OpenResult 描述如何读取文件内容：LocalPath 和 Remote 二选一。
// Remote.Body 非空时由调用方负责关闭。
type OpenResult struct {
	View      FileView
	LocalPath string
	Remote    *RemoteContent
}

// FileStats 汇总存储情况。
type FileStats struct {
	Total       int                    `json:"total"`
	TotalBytes  int64                  `json:"totalBytes"`
	TotalSize   string                 `json:"totalSize"`
	ByType      map[model.FileType]int `json:"byType"`
	Relayed     int                    `json:"relayed"`
	RelayFailed int                    `json:"relayFailed"`
}

// FileService 接口定义了文件管理相关的业务操作。
type FileService interface {
	List(ctx context.Context, opts ListOptions) ([]FileView, error)
	Get(ctx context.Context, id string) (*FileView, error)
	Open(ctx context.Context, id string) (*OpenResult, error)
	Delete(ctx context.Context, id string) error
	Rename(ctx context.Context, id, newName string) (*FileView, error)
	AttachRelayResult(ctx context.Context, id string, ref *model.RemoteReference, relayErr error) error
	ReleaseLocalCopy(ctx context.Context, id string) error
	BackfillDisplayNames(ctx context.Context) (int, error)
	Search(ctx context.Context, query string, limit int) ([]FileView, error)
	Stats(ctx context.Context) (*FileStats, error)
	LocalPath(rec model.FileRecord) (string, error)
}

type fileService struct {
	repo      repository.FileRepository
	uploadDir string
	in        Integrations
}

// NewFileService 创建一个新的 FileService 实例。
func NewFileService(repo repository.FileRepository, uploadDir string, in Integrations) FileService {
	return &fileService{repo: repo, uploadDir: uploadDir, in: in}
}

// List 返回按上传时间倒序排列的文件视图。
func (s *fileService) List(ctx context.Context, opts ListOptions) ([]FileView, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	query := strings.ToLower(strings.TrimSpace(opts.Query))

	views := make([]FileView, 0, len(records))
	for _, rec := range records {
		if opts.Type != "" && rec.FileType != opts.Type {
			continue
		}
		view := NewFileView(rec)
		if query != "" && !matches(view, query) {
			continue
		}
		views = append(views, view)
	}
	sortNewestFirst(views)
	if opts.Limit > 0 && len(views) > opts.Limit {
		views = views[:opts.Limit]
	}
	return views, nil
}

func matches(view FileView, query string) bool {
	return strings.Contains(strings.ToLower(view.DisplayName), query) ||
		strings.Contains(strings.ToLower(view.StoredName), query)
}

// sortNewestFirst 按上传时间倒序，时间相同的保持后插入的在前。
func sortNewestFirst(views []FileView) {
	for i, j := 0, len(views)-1; i < j; i, j = i+1, j-1 {
		views[i], views[j] = views[j], views[i]
	}
	sort.SliceStable(views, func(i, j int) bool {
		return views[i].UploadedAt.After(views[j].UploadedAt)
	})
}

func (s *fileService) Get(ctx context.Context, id string) (*FileView, error) {
	rec, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrRecordNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	view := NewFileView(*rec)
	return &view, nil
}

func (s *fileService) LocalPath(rec model.FileRecord) (string, error) {
	return resolveInRoot(s.uploadDir, rec.StoredPath)
}

// Open 优先返回本地文件；本地副本已不存在时返回远端链接。
func (s *fileService) Open(ctx context.Context, id string) (*OpenResult, error) {
	view, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !view.LocalDeleted {
		path, err := s.LocalPath(view.FileRecord)
		if err != nil {
			return nil, err
		}
		if info, statErr := os.Stat(path); statErr == nil && info.Mode().IsRegular() {
			return &OpenResult{View: *view, LocalPath: path}, nil
		}
		log.Warnf("[FileService] 本地文件缺失, id=%s, path=%s", id, path)
	}
	if view.Remote != nil {
		if store := s.in.remote(view.Remote.Provider); store != nil {
			content, err := store.OpenRemote(ctx, *view.Remote)
			if err != nil {
				return nil, fmt.Errorf("读取远端副本失败: %w", err)
			}
			return &OpenResult{View: *view, Remote: content}, nil
		}
	}
	return nil, ErrFileGone
}

// Delete 依次删除远端副本、本地文件和记录。远端和本地删除失败只记录日志。
func (s *fileService) Delete(ctx context.Context, id string) error {
	view, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	log.Infof("[FileService] 开始删除文件, id=%s, storedName=%s", id, view.StoredName)

	if view.Remote != nil {
		if store := s.in.remote(view.Remote.Provider); store != nil {
			if err := store.DeleteRemote(ctx, *view.Remote); err != nil {
				log.Warnf("[FileService] 删除远端副本失败, id=%s, provider=%s, error=%v", id, view.Remote.Provider, err)
			}
		}
	}

	if path, err := s.LocalPath(view.FileRecord); err != nil {
		log.Warnf("[FileService] 记录中的路径无效, id=%s, error=%v", id, err)
	} else if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Infof("[FileService] 本地文件已不存在, id=%s", id)
		} else {
			log.Warnf("[FileService] 删除本地文件失败, id=%s, error=%v", id, err)
		}
	}

	removed, err := s.repo.Remove(ctx, id)
	if err != nil {
		return fmt.Errorf("删除文件记录失败: %w", err)
	}
	if !removed {
		return ErrFileNotFound
	}
	s.in.unindex(ctx, id)
	s.in.publish(EventFileDeleted, *view)
	log.Infof("[FileService] 文件已删除, id=%s", id)
	return nil
}

// Rename 修改显示用的原始文件名，磁盘文件名保持不变。
func (s *fileService) Rename(ctx context.Context, id, newName string) (*FileView, error) {
	name := strings.TrimSpace(newName)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, ErrInvalidFileName
	}
	if err := validateFileName(name); err != nil {
		return nil, err
	}

	var updated model.FileRecord
	err := s.repo.Update(ctx, id, func(r *model.FileRecord) error {
		r.OriginalName = name
		updated = *r
		return nil
	})
	if errors.Is(err, repository.ErrRecordNotFound) {
		return nil, ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	view := NewFileView(updated)
	s.in.index(ctx, view)
	s.in.publish(EventFileUpdated, view)
	return &view, nil
}

// AttachRelayResult 记录转发结果：成功时保存远端引用，失败时保存错误说明。
func (s *fileService) AttachRelayResult(ctx context.Context, id string, ref *model.RemoteReference, relayErr error) error {
	var updated model.FileRecord
	err := s.repo.Update(ctx, id, func(r *model.FileRecord) error {
		switch {
		case ref != nil:
			copied := *ref
			if copied.RelayedAt.IsZero() {
				copied.RelayedAt = time.Now().UTC()
			}
			r.Remote = &copied
			r.RelayError = ""
		case relayErr != nil:
			r.RelayError = relayErr.Error()
		}
		updated = *r
		return nil
	})
	if errors.Is(err, repository.ErrRecordNotFound) {
		return ErrFileNotFound
	}
	if err != nil {
		return err
	}
	view := NewFileView(updated)
	s.in.index(ctx, view)
	s.in.publish(EventFileRelayed, view)
	return nil
}

// ReleaseLocalCopy 在文件已有远端副本时删除本地内容，记录保留。
func (s *fileService) ReleaseLocalCopy(ctx context.Context, id string) error {
	var rec model.FileRecord
	err := s.repo.Update(ctx, id, func(r *model.FileRecord) error {
		if r.Remote == nil {
			return ErrFileGone
		}
		r.LocalDeleted = true
		rec = *r
		return nil
	})
	if errors.Is(err, repository.ErrRecordNotFound) {
		return ErrFileNotFound
	}
	if err != nil {
		return err
	}
	path, err := s.LocalPath(rec)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("删除本地副本失败: %w", err)
	}
	log.Infof("[FileService] 已释放本地副本, id=%s", id)
	return nil
}

// BackfillDisplayNames 为没有原始文件名的记录写入能从磁盘文件名还原出的名称。
// 只写入 recovered 来源的名称，类别标签和兜底名称不会被持久化。
func (s *fileService) BackfillDisplayNames(ctx context.Context) (int, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return 0, err
	}
	updated := 0
	for _, rec := range records {
		if rec.OriginalName != "" {
			continue
		}
		dn := naming.Recover(rec.StoredName)
		if dn.Source != naming.SourceRecovered {
			continue
		}
		err := s.repo.Update(ctx, rec.ID, func(r *model.FileRecord) error {
			if r.OriginalName == "" {
				r.OriginalName = dn.Name
			}
			return nil
		})
		if err != nil {
			log.Warnf("[Backfill] 更新记录失败, id=%s, error=%v", rec.ID, err)
			continue
		}
		updated++
	}
	log.Infof("[Backfill] 显示名称回填完成, 共更新 %d 条记录", updated)
	return updated, nil
}

// Search 优先使用检索索引，索引不可用时退回内存匹配。
func (s *fileService) Search(ctx context.Context, query string, limit int) ([]FileView, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return []FileView{}, nil
	}
	if s.in.Index != nil {
		hits, err := s.in.Index.SearchFiles(ctx, query, limit)
		if err == nil {
			views := make([]FileView, 0, len(hits))
			for _, hit := range hits {
				view, err := s.Get(ctx, hit.ID)
				if err != nil {
					continue
				}
				views = append(views, *view)
			}
			return views, nil
		}
		log.Warnf("[Search] 检索索引查询失败，改用内存匹配: %v", err)
	}
	return s.List(ctx, ListOptions{Query: query, Limit: limit})
}

func (s *fileService) Stats(ctx context.Context) (*FileStats, error) {
	records, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	stats := &FileStats{ByType: make(map[model.FileType]int)}
	for _, rec := range records {
		stats.Total++
		stats.TotalBytes += rec.FileSizeBytes
		stats.ByType[rec.FileType]++
		if rec.Relayed() {
			stats.Relayed++
		} else if rec.RelayError != "" {
			stats.RelayFailed++
		}
	}
	stats.TotalSize = humanize.Bytes(uint64(stats.TotalBytes))
	return stats, nil
}
