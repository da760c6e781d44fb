// Package model 定义了文件元数据记录及相关的值类型。
package model

import "time"

// FileType 是记录的粗粒度类别，取值固定。
type FileType string

const (
	FileTypeDocument FileType = "document"
	FileTypePhoto    FileType = "photo"
	FileTypeVideo    FileType = "video"
	FileTypeAudio    FileType = "audio"
)

// Valid 判断类型是否属于固定集合。
func (t FileType) Valid() bool {
	switch t {
	case FileTypeDocument, FileTypePhoto, FileTypeVideo, FileTypeAudio:
		return true
	}
	return false
}

// Uploader 记录文件的上传来源。
type Uploader struct {
	Source string `json:"source"` // web | telegram | import
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
}

// String 返回便于展示的上传者描述。
func (u Uploader) String() string {
	if u.Name != "" {
		return u.Name
	}
	if u.ID != "" {
		return u.Source + ":" + u.ID
	}
	return u.Source
}

// RemoteReference 是转发成功后远端返回的句柄。
type RemoteReference struct {
	Provider  string    `json:"provider"` // telegram | minio
	FileID    string    `json:"fileId,omitempty"`
	MessageID int       `json:"messageId,omitempty"`
	ChatID    int64     `json:"chatId,omitempty"`
	ObjectKey string    `json:"objectKey,omitempty"`
	RelayedAt time.Time `json:"relayedAt"`
}

// FileRecord 对应一个已存储的文件。
// StoredPath 始终是相对于上传目录的单级文件名，不能逃逸出上传目录。
type FileRecord struct {
	ID            string           `json:"id"`
	StoredName    string           `json:"storedName"`
	OriginalName  string           `json:"originalName,omitempty"`
	FileType      FileType         `json:"fileType"`
	MimeType      string           `json:"mimeType,omitempty"`
	FileSizeBytes int64            `json:"fileSizeBytes"`
	StoredPath    string           `json:"storedPath"`
	UploadedAt    time.Time        `json:"uploadedAt"`
	Uploader      Uploader         `json:"uploader"`
	Remote        *RemoteReference `json:"remote,omitempty"`
	RelayError    string           `json:"relayError,omitempty"`
	LocalDeleted  bool             `json:"localDeleted,omitempty"`
}

// Clone 返回记录的深拷贝，避免调用方修改存储内部的数据。
func (r FileRecord) Clone() FileRecord {
	if r.Remote != nil {
		ref := *r.Remote
		r.Remote = &ref
	}
	return r
}

// Relayed 表示文件已有远端副本。
func (r FileRecord) Relayed() bool {
	return r.Remote != nil
}
