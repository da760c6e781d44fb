package model

import "time"

// FileRecordRow 定义了 file_record 表的 ORM 模型。
// 远端引用被展开成若干列，RemoteProvider 为空表示尚未转发。
type FileRecordRow struct {
	Seq            uint      `gorm:"primaryKey;autoIncrement"`
	ID             string    `gorm:"column:id;type:varchar(32);not null;uniqueIndex:uk_file_record_id"`
	StoredName     string    `gorm:"type:varchar(255);not null;uniqueIndex:uk_file_record_stored_name"`
	OriginalName   string    `gorm:"type:varchar(255)"`
	FileType       string    `gorm:"type:varchar(16);not null;index"`
	MimeType       string    `gorm:"type:varchar(128)"`
	FileSizeBytes  int64     `gorm:"not null"`
	StoredPath     string    `gorm:"type:varchar(255);not null"`
	UploadedAt     time.Time `gorm:"not null;index"`
	UploaderSource string    `gorm:"type:varchar(16)"`
	UploaderID     string    `gorm:"type:varchar(64)"`
	UploaderName   string    `gorm:"type:varchar(128)"`
	RemoteProvider string    `gorm:"type:varchar(16)"`
	RemoteFileID   string    `gorm:"type:varchar(255)"`
	RemoteMsgID    int
	RemoteChatID   int64
	RemoteObject   string `gorm:"type:varchar(255)"`
	RelayedAt      *time.Time
	RelayError     string `gorm:"type:text"`
	LocalDeleted   bool   `gorm:"not null;default:false"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (FileRecordRow) TableName() string {
	return "file_record"
}

// NewFileRecordRow 把领域记录展开为数据库行。
func NewFileRecordRow(r FileRecord) FileRecordRow {
	row := FileRecordRow{
		ID:             r.ID,
		StoredName:     r.StoredName,
		OriginalName:   r.OriginalName,
		FileType:       string(r.FileType),
		MimeType:       r.MimeType,
		FileSizeBytes:  r.FileSizeBytes,
		StoredPath:     r.StoredPath,
		UploadedAt:     r.UploadedAt,
		UploaderSource: r.Uploader.Source,
		UploaderID:     r.Uploader.ID,
		UploaderName:   r.Uploader.Name,
		RelayError:     r.RelayError,
		LocalDeleted:   r.LocalDeleted,
	}
	if r.Remote != nil {
		row.RemoteProvider = r.Remote.Provider
		row.RemoteFileID = r.Remote.FileID
		row.RemoteMsgID = r.Remote.MessageID
		row.RemoteChatID = r.Remote.ChatID
		row.RemoteObject = r.Remote.ObjectKey
		at := r.Remote.RelayedAt
		row.RelayedAt = &at
	}
	return row
}

// Record 把数据库行还原为领域记录。
func (row FileRecordRow) Record() FileRecord {
	r := FileRecord{
		ID:            row.ID,
		StoredName:    row.StoredName,
		OriginalName:  row.OriginalName,
		FileType:      FileType(row.FileType),
		MimeType:      row.MimeType,
		FileSizeBytes: row.FileSizeBytes,
		StoredPath:    row.StoredPath,
		UploadedAt:    row.UploadedAt.UTC(),
		Uploader: Uploader{
			Source: row.UploaderSource,
			ID:     row.UploaderID,
			Name:   row.UploaderName,
		},
		RelayError:   row.RelayError,
		LocalDeleted: row.LocalDeleted,
	}
	if row.RemoteProvider != "" {
		r.Remote = &RemoteReference{
			Provider:  row.RemoteProvider,
			FileID:    row.RemoteFileID,
			MessageID: row.RemoteMsgID,
			ChatID:    row.RemoteChatID,
			ObjectKey: row.RemoteObject,
		}
		if row.RelayedAt != nil {
			r.Remote.RelayedAt = row.RelayedAt.UTC()
		}
	}
	return r
}
