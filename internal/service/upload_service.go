package service

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
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
	"teledrive-go/pkg/tasks"
)

const (
	incomingDir      = ".incoming"
	partSuffix       = ".part"
	maxFileNameBytes = 255
	sniffBytes       = 3072
	genericMIME      = "application/octet-stream"
)

// UploadRequest 描述一次上传。DeclaredSize 小于 0 表示来源未声明大小。
type UploadRequest struct {
	OriginalName string
	MimeType     string
	DeclaredSize int64
	Class        naming.FileClass
	Uploader     model.Uploader
	Body         io.Reader
	// Remote 非空表示文件本身就来自远端（例如机器人收到的消息），无需再转发。
	Remote *model.RemoteReference
}

// UploadService 接口定义了文件上传相关的业务操作。
type UploadService interface {
	Ingest(ctx context.Context, req UploadRequest) (*model.FileRecord, error)
	MaxUploadBytes() int64
}

type uploadService struct {
	repo      repository.FileRepository
	gen       *naming.Generator
	uploadDir string
	maxBytes  int64
	keepStem  bool
	in        Integrations
	now       func() time.Time
}

// NewUploadService 创建一个新的 UploadService 实例。
func NewUploadService(repo repository.FileRepository, gen *naming.Generator, storageCfg config.StorageConfig, namingCfg config.NamingConfig, in Integrations) UploadService {
	return &uploadService{
		repo:      repo,
		gen:       gen,
		uploadDir: storageCfg.UploadDir,
		maxBytes:  storageCfg.MaxUploadBytes,
		keepStem:  namingCfg.KeepOriginalStem,
		in:        in,
		now:       time.Now,
	}
}

func (s *uploadService) MaxUploadBytes() int64 {
	return s.maxBytes
}

// Ingest 把上传内容落盘并创建元数据记录。
// 任何失败都不会留下半写的文件，也不会留下没有文件的记录。
func (s *uploadService) Ingest(ctx context.Context, req UploadRequest) (*model.FileRecord, error) {
	log.Infof("[Ingest] 开始接收文件, name=%q, declaredSize=%d, uploader=%s", req.OriginalName, req.DeclaredSize, req.Uploader)

	if err := validateFileName(req.OriginalName); err != nil {
		return nil, err
	}
	if req.DeclaredSize == 0 {
		return nil, ErrEmptyFile
	}
	if req.DeclaredSize > s.maxBytes {
		return nil, ErrFileTooLarge
	}
	if req.Body == nil {
		return nil, ErrEmptyFile
	}

	body := bufio.NewReaderSize(req.Body, sniffBytes)
	head, _ := body.Peek(sniffBytes)
	mimeType, class := s.classify(req, head)

	storedName, err := s.pickStoredName(ctx, class, req.OriginalName)
	if err != nil {
		return nil, err
	}
	size, err := s.writeFile(ctx, storedName, body)
	if err != nil {
		log.Warnf("[Ingest] 写入文件失败, storedName=%s, error=%v", storedName, err)
		return nil, err
	}

	rec := &model.FileRecord{
		ID:            repository.NewRecordID(),
		StoredName:    storedName,
		OriginalName:  req.OriginalName,
		FileType:      fileTypeOf(class),
		MimeType:      mimeType,
		FileSizeBytes: size,
		StoredPath:    storedName,
		UploadedAt:    s.now().UTC(),
		Uploader:      req.Uploader,
		Remote:        req.Remote,
	}
	if err := s.repo.Append(ctx, rec); err != nil {
		log.Errorf("[Ingest] 追加记录失败，删除已写入的文件, storedName=%s, error=%v", storedName, err)
		if path, perr := resolveInRoot(s.uploadDir, storedName); perr == nil {
			_ = os.Remove(path)
		}
		return nil, fmt.Errorf("保存文件记录失败: %w", err)
	}

	view := NewFileView(*rec)
	log.Infow("[Ingest] 文件已保存", "id", rec.ID, "storedName", storedName, "size", size, "type", rec.FileType)
	s.afterAppend(ctx, view)
	return rec, nil
}

// afterAppend 执行追加成功后的附加动作，失败只记录日志。
func (s *uploadService) afterAppend(ctx context.Context, view FileView) {
	s.in.index(ctx, view)
	s.in.publish(EventFileCreated, view)

	if view.Remote != nil || s.in.Dispatcher == nil {
		return
	}
	task := tasks.RelayTask{
		FileID:      view.ID,
		StoredName:  view.StoredName,
		DisplayName: view.DisplayName,
		Uploader:    view.Uploader.String(),
		EnqueuedAt:  s.now().UTC(),
	}
	if err := s.in.Dispatcher.Dispatch(ctx, task); err != nil {
		log.Errorf("[Ingest] 投递转发任务失败, id=%s, error=%v", view.ID, err)
	}
}

// classify 依次根据显式类别、声明的 MIME、内容嗅探和扩展名确定类别。
func (s *uploadService) classify(req UploadRequest, head []byte) (string, naming.FileClass) {
	declared := normalizeMIME(req.MimeType)
	sniffed := ""
	if len(head) > 0 {
		sniffed = normalizeMIME(mimetype.Detect(head).String())
	}

	mimeType := declared
	if mimeType == "" || mimeType == genericMIME {
		mimeType = sniffed
	}

	switch {
	case req.Class != "":
		return mimeType, req.Class
	case declared != "" && declared != genericMIME:
		return mimeType, naming.ClassFromMIME(declared)
	case sniffed != "" && sniffed != genericMIME && !strings.HasPrefix(sniffed, "text/plain"):
		return mimeType, naming.ClassFromMIME(sniffed)
	}
	return mimeType, naming.ClassFromName(req.OriginalName)
}

// pickStoredName 生成文件名，并确认磁盘和记录中都没有同名文件。
func (s *uploadService) pickStoredName(ctx context.Context, class naming.FileClass, originalName string) (string, error) {
	for i := 0; i < 5; i++ {
		var name string
		if s.keepStem {
			name = s.gen.GenerateNamed(originalName)
		} else {
			name = s.gen.Generate(class, originalName)
		}
		path, err := resolveInRoot(s.uploadDir, name)
		if err != nil {
			return "", err
		}
		if _, err := os.Lstat(path); err == nil {
			continue
		}
		if _, err := s.repo.FindByStoredName(ctx, name); err == nil {
			continue
		}
		return name, nil
	}
	return "", fmt.Errorf("无法生成唯一的文件名: %s", originalName)
}

// writeFile 先写入 .incoming/<name>.part，校验大小并 fsync 后再重命名到上传目录。
func (s *uploadService) writeFile(ctx context.Context, storedName string, body io.Reader) (int64, error) {
	finalPath, err := resolveInRoot(s.uploadDir, storedName)
	if err != nil {
		return 0, err
	}
	incoming := filepath.Join(s.uploadDir, incomingDir)
	if err := os.MkdirAll(incoming, 0o755); err != nil {
		return 0, fmt.Errorf("创建临时目录失败: %w", err)
	}
	partPath := filepath.Join(incoming, storedName+partSuffix)

	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("创建临时文件失败: %w", err)
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(partPath)
	}

	n, err := io.Copy(f, io.LimitReader(contextReader{ctx: ctx, r: body}, s.maxBytes+1))
	switch {
	case err != nil:
		cleanup()
		return 0, fmt.Errorf("%w: %v", ErrPartialWrite, err)
	case n == 0:
		cleanup()
		return 0, ErrEmptyFile
	case n > s.maxBytes:
		cleanup()
		return 0, ErrFileTooLarge
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return 0, fmt.Errorf("%w: %v", ErrPartialWrite, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(partPath)
		return 0, fmt.Errorf("%w: %v", ErrPartialWrite, err)
	}
	if err := os.Rename(partPath, finalPath); err != nil {
		_ = os.Remove(partPath)
		return 0, fmt.Errorf("%w: %v", ErrPartialWrite, err)
	}
	return n, nil
}

// contextReader 在每次读取前检查 ctx，客户端断开后尽快停止复制。
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// resolveInRoot 返回上传目录下单级文件名的绝对路径，拒绝任何可能逃逸的名称。
func resolveInRoot(root, name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`+"\x00") {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, name)
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	p := filepath.Join(absRoot, name)
	if filepath.Dir(p) != absRoot {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, name)
	}
	return p, nil
}

func validateFileName(name string) error {
	if len(name) > maxFileNameBytes || strings.ContainsRune(name, 0) {
		return ErrInvalidFileName
	}
	return nil
}

func normalizeMIME(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if mt, params, err := mime.ParseMediaType(v); err == nil {
		if cs, ok := params["charset"]; ok {
			return mime.FormatMediaType(mt, map[string]string{"charset": cs})
		}
		return mt
	}
	return strings.ToLower(v)
}

func fileTypeOf(class naming.FileClass) model.FileType {
	switch class {
	case naming.ClassPhoto:
		return model.FileTypePhoto
	case naming.ClassVideo:
		return model.FileTypeVideo
	case naming.ClassAudio:
		return model.FileTypeAudio
	}
	return model.FileTypeDocument
}

// IsInputError 判断错误是否由上传内容本身引起（对应 4xx）。
func IsInputError(err error) bool {
	return errors.Is(err, ErrEmptyFile) || errors.Is(err, ErrFileTooLarge) || errors.Is(err, ErrInvalidFileName)
}
