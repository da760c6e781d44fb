package service

import (
	"context"
	"io"

	"teledrive-go/internal/model"
	"teledrive-go/pkg/log"
	"teledrive-go/pkg/naming"
	"teledrive-go/pkg/tasks"
)

// 广播给 websocket 订阅者的事件类型。
const (
	EventFileCreated = "file.created"
	EventFileUpdated = "file.updated"
	EventFileRelayed = "file.relayed"
	EventFileDeleted = "file.deleted"
)

// SearchIndex 是文件名检索后端，由 pkg/es 实现。
type SearchIndex interface {
	IndexFile(ctx context.Context, doc model.FileSearchDoc) error
	DeleteFile(ctx context.Context, id string) error
	SearchFiles(ctx context.Context, query string, limit int) ([]model.SearchHit, error)
}

// EventPublisher 向订阅者广播文件事件，由 pkg/events 实现。
type EventPublisher interface {
	Publish(eventType string, payload any)
}

// RemoteStore 管理转发到远端的副本，由 Telegram 转发器和 MinIO 镜像实现。
type RemoteStore interface {
	Provider() string
	DeleteRemote(ctx context.Context, ref model.RemoteReference) error
	OpenRemote(ctx context.Context, ref model.RemoteReference) (*RemoteContent, error)
}

// RemoteContent 是远端副本的读取方式：可以重定向的 URL，或者由服务端代理的内容流。
type RemoteContent struct {
	RedirectURL string
	Body        io.ReadCloser
	Size        int64
}

// Integrations 汇总上传完成后的可选外部协作方，任意字段都可以为 nil。
type Integrations struct {
	Dispatcher tasks.Dispatcher
	Index      SearchIndex
	Events     EventPublisher
	Remotes    []RemoteStore
}

func (in Integrations) remote(provider string) RemoteStore {
	for _, r := range in.Remotes {
		if r != nil && r.Provider() == provider {
			return r
		}
	}
	return nil
}

func (in Integrations) publish(eventType string, view FileView) {
	if in.Events != nil {
		in.Events.Publish(eventType, view)
	}
}

func (in Integrations) index(ctx context.Context, view FileView) {
	if in.Index == nil {
		return
	}
	if err := in.Index.IndexFile(ctx, view.searchDoc()); err != nil {
		log.Warnf("[Index] 更新检索索引失败, id=%s, error=%v", view.ID, err)
	}
}

func (in Integrations) unindex(ctx context.Context, id string) {
	if in.Index == nil {
		return
	}
	if err := in.Index.DeleteFile(ctx, id); err != nil {
		log.Warnf("[Index] 删除检索文档失败, id=%s, error=%v", id, err)
	}
}

// FileView 是返回给调用方的记录视图，附带解析出的显示名称。
type FileView struct {
	model.FileRecord
	DisplayName       string            `json:"displayName"`
	DisplayNameSource naming.NameSource `json:"displayNameSource"`
}

// NewFileView 为记录计算显示名称。
func NewFileView(rec model.FileRecord) FileView {
	dn := naming.Resolve(rec.OriginalName, rec.StoredName)
	return FileView{FileRecord: rec, DisplayName: dn.Name, DisplayNameSource: dn.Source}
}

func (v FileView) searchDoc() model.FileSearchDoc {
	return model.FileSearchDoc{
		ID:           v.ID,
		DisplayName:  v.DisplayName,
		StoredName:   v.StoredName,
		OriginalName: v.OriginalName,
		FileType:     v.FileType,
		MimeType:     v.MimeType,
		SizeBytes:    v.FileSizeBytes,
		Uploader:     v.Uploader.String(),
		UploadedAt:   v.UploadedAt,
		Relayed:      v.Relayed(),
	}
}
