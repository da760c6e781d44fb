package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"teledrive-go/internal/model"
	"teledrive-go/pkg/log"
)

// documentVersion 是当前持久化格式的版本号。旧版本是没有版本字段的顶层数组。
const documentVersion = 1

type fileDocument struct {
	Version int                `json:"version"`
	Files   []model.FileRecord `json:"files"`
}

// JSONFileRepository 把全部记录保存在一个 JSON 文件里，每次修改后整体重写。
// 数据量大时应换成 GormFileRepository，调用方无需改动。
type JSONFileRepository struct {
	path string

	mu      sync.Mutex
	records []model.FileRecord
	byID    map[string]int
	byName  map[string]int
}

// NewJSONFileRepository 创建存储并立即从磁盘加载。
func NewJSONFileRepository(path string) (*JSONFileRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	r := &JSONFileRepository{path: path}
	if err := r.Load(); err != nil {
		return nil, err
	}
	return r, nil
}

// Load 从磁盘读取文档，替换内存中的集合。
// 文件不存在时从空集合开始；内容无法解析时记录警告、把坏文件挪到一旁并从空集合开始。
// 只有读文件本身失败（权限等）才返回错误。
func (r *JSONFileRepository) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		r.reset(nil)
		log.Infof("[FileStore] 元数据文件不存在，使用空集合: %s", r.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("读取元数据文件失败: %w", err)
	}

	records, migrated, err := decodeDocument(data)
	if err != nil {
		aside := fmt.Sprintf("%s.corrupt-%d", r.path, time.Now().Unix())
		if renameErr := os.Rename(r.path, aside); renameErr != nil {
			aside = ""
		}
		log.Warnw("[FileStore] 元数据文件损坏，已重置为空集合",
			"path", r.path, "movedTo", aside, "error", err)
		r.reset(nil)
		return nil
	}

	r.reset(records)
	log.Infof("[FileStore] 已加载 %d 条记录 (legacy=%t): %s", len(r.records), migrated, r.path)
	return nil
}

// reset 重建集合和索引。遇到重复的 ID 或文件名时保留先出现的一条。
func (r *JSONFileRepository) reset(records []model.FileRecord) {
	r.records = make([]model.FileRecord, 0, len(records))
	r.byID = make(map[string]int, len(records))
	r.byName = make(map[string]int, len(records))
	for _, rec := range records {
		if _, dup := r.byID[rec.ID]; dup {
			log.Warnw("[FileStore] 加载时跳过重复 ID", "id", rec.ID)
			continue
		}
		if _, dup := r.byName[rec.StoredName]; dup && rec.StoredName != "" {
			log.Warnw("[FileStore] 加载时跳过重复文件名", "storedName", rec.StoredName)
			continue
		}
		r.index(len(r.records), rec)
		r.records = append(r.records, rec)
	}
}

func (r *JSONFileRepository) index(pos int, rec model.FileRecord) {
	r.byID[rec.ID] = pos
	if rec.StoredName != "" {
		r.byName[rec.StoredName] = pos
	}
}

// Persist 把整个集合写入临时文件后原子替换原文件。
func (r *JSONFileRepository) Persist() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persistLocked()
}

func (r *JSONFileRepository) persistLocked() error {
	doc := fileDocument{Version: documentVersion, Files: r.records}
	if doc.Files == nil {
		doc.Files = []model.FileRecord{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化元数据失败: %w", err)
	}

	tmp := r.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("写入元数据失败: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("写入元数据失败: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("写入元数据失败: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("写入元数据失败: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("替换元数据文件失败: %w", err)
	}
	return nil
}

// List 返回所有记录的副本。
func (r *JSONFileRepository) List(ctx context.Context) ([]model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.FileRecord, len(r.records))
	for i, rec := range r.records {
		out[i] = rec.Clone()
	}
	return out, nil
}

// Get 根据 ID 查找记录。
func (r *JSONFileRepository) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.byID[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	rec := r.records[pos].Clone()
	return &rec, nil
}

// FindByStoredName 根据磁盘文件名查找记录。
func (r *JSONFileRepository) FindByStoredName(ctx context.Context, storedName string) (*model.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.byName[storedName]
	if !ok {
		return nil, ErrRecordNotFound
	}
	rec := r.records[pos].Clone()
	return &rec, nil
}

// Append 追加记录并持久化，持久化失败时回滚内存中的修改。
func (r *JSONFileRepository) Append(ctx context.Context, record *model.FileRecord) error {
	if record.ID == "" || record.StoredName == "" {
		return ErrInvalidRecord
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byID[record.ID]; dup {
		log.Warnw("[FileStore] 拒绝重复 ID", "id", record.ID)
		return ErrDuplicateID
	}
	if _, dup := r.byName[record.StoredName]; dup {
		log.Warnw("[FileStore] 拒绝重复文件名", "storedName", record.StoredName)
		return ErrDuplicateStoredName
	}

	rec := record.Clone()
	r.index(len(r.records), rec)
	r.records = append(r.records, rec)
	if err := r.persistLocked(); err != nil {
		r.records = r.records[:len(r.records)-1]
		delete(r.byID, rec.ID)
		delete(r.byName, rec.StoredName)
		return err
	}
	return nil
}

// Update 在锁内修改一条记录并持久化。
func (r *JSONFileRepository) Update(ctx context.Context, id string, fn func(record *model.FileRecord) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.byID[id]
	if !ok {
		return ErrRecordNotFound
	}
	before := r.records[pos]
	updated := before.Clone()
	if err := fn(&updated); err != nil {
		return err
	}
	restoreImmutable(before, &updated)

	r.records[pos] = updated
	if err := r.persistLocked(); err != nil {
		r.records[pos] = before
		return err
	}
	return nil
}

// Remove 删除记录并持久化。
func (r *JSONFileRepository) Remove(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	pos, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	previous := r.records
	next := make([]model.FileRecord, 0, len(previous)-1)
	next = append(next, previous[:pos]...)
	next = append(next, previous[pos+1:]...)

	r.reindex(next)
	if err := r.persistLocked(); err != nil {
		r.reindex(previous)
		return false, err
	}
	return true, nil
}

func (r *JSONFileRepository) reindex(records []model.FileRecord) {
	r.records = records
	r.byID = make(map[string]int, len(records))
	r.byName = make(map[string]int, len(records))
	for i, rec := range records {
		r.index(i, rec)
	}
}

// decodeDocument 解析当前格式或旧版顶层数组格式。
func decodeDocument(data []byte) ([]model.FileRecord, bool, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, false, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var legacy []legacyRecord
		if err := json.Unmarshal(data, &legacy); err != nil {
			return nil, true, err
		}
		records := make([]model.FileRecord, 0, len(legacy))
		for _, l := range legacy {
			rec, ok := l.toRecord()
			if !ok {
				log.Warnw("[FileStore] 跳过没有文件名的旧版记录", "id", l.ID)
				continue
			}
			records = append(records, rec)
		}
		return records, true, nil
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, err
	}
	if doc.Version > documentVersion {
		return nil, false, fmt.Errorf("unsupported document version %d", doc.Version)
	}
	return doc.Files, false, nil
}

// legacyRecord 对应旧版 files.json 中的条目。
type legacyRecord struct {
	ID               string `json:"_id"`
	FileName         string `json:"fileName"`
	OriginalFileName string `json:"originalFileName"`
	FileType         string `json:"fileType"`
	MimeType         string `json:"mimeType"`
	FileSize         int64  `json:"fileSize"`
	FilePath         string `json:"filePath"`
	UploadDate       string `json:"uploadDate"`
	UploadedBy       struct {
		UserID    json.RawMessage `json:"userId"`
		FirstName string          `json:"firstName"`
		LastName  string          `json:"lastName"`
		Username  string          `json:"username"`
	} `json:"uploadedBy"`
	FileID            string `json:"fileId"`
	TelegramMessageID int    `json:"telegramMessageId"`
	ChatID            int64  `json:"chatId"`
	TelegramError     string `json:"telegramError"`
	LocalFileStored   *bool  `json:"localFileStored"`
}

// toRecord 转换旧版条目；没有可用文件名时返回 false。
func (l legacyRecord) toRecord() (model.FileRecord, bool) {
	id := l.ID
	if id == "" {
		id = NewRecordID()
	}
	uploadedAt, err := time.Parse(time.RFC3339Nano, l.UploadDate)
	if err != nil {
		uploadedAt = time.Time{}
	}
	fileType := model.FileType(l.FileType)
	if !fileType.Valid() {
		fileType = model.FileTypeDocument
	}

	userID := strings.Trim(string(l.UploadedBy.UserID), `"`)
	uploader := model.Uploader{Source: "web", ID: userID}
	if userID != "" && userID != "web_upload" {
		uploader.Source = "telegram"
	}
	name := strings.TrimSpace(l.UploadedBy.FirstName + " " + l.UploadedBy.LastName)
	if l.UploadedBy.Username != "" {
		name = "@" + l.UploadedBy.Username
	}
	uploader.Name = name

	raw := strings.TrimSpace(l.FileName)
	if p := strings.TrimSpace(l.FilePath); p != "" {
		raw = p
	}
	storedName := filepath.Base(filepath.FromSlash(raw))
	if raw == "" || storedName == "." || storedName == ".." || storedName == string(filepath.Separator) {
		return model.FileRecord{}, false
	}

	rec := model.FileRecord{
		ID:            id,
		StoredName:    storedName,
		OriginalName:  l.OriginalFileName,
		FileType:      fileType,
		MimeType:      l.MimeType,
		FileSizeBytes: l.FileSize,
		StoredPath:    storedName,
		UploadedAt:    uploadedAt.UTC(),
		Uploader:      uploader,
		RelayError:    l.TelegramError,
		LocalDeleted:  l.LocalFileStored != nil && !*l.LocalFileStored,
	}
	if l.FileID != "" {
		rec.Remote = &model.RemoteReference{
			Provider:  "telegram",
			FileID:    l.FileID,
			MessageID: l.TelegramMessageID,
			ChatID:    l.ChatID,
		}
	}
	return rec, true
}

// NewRecordID 生成 12 位十六进制的记录 ID（UUIDv4 去掉连字符后取前 12 位）。
func NewRecordID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
