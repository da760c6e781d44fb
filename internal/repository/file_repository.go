// Package repository 定义了文件元数据的持久化接口和实现。
package repository

import (
	"context"
	"errors"

	"teledrive-go/internal/model"
)

var (
	// ErrRecordNotFound 表示指定 ID 的记录不存在。
	ErrRecordNotFound = errors.New("file record not found")
	// ErrDuplicateID 表示记录 ID 已被占用。
	ErrDuplicateID = errors.New("duplicate file record id")
	// ErrDuplicateStoredName 表示磁盘文件名已被另一条记录使用。
	ErrDuplicateStoredName = errors.New("duplicate stored name")
	// ErrInvalidRecord 表示记录缺少 ID 或磁盘文件名。
	ErrInvalidRecord = errors.New("file record requires id and stored name")
)

// FileRepository 是文件元数据存储的唯一入口。
// 所有实现都必须串行化修改操作，并发的 Append 不能互相覆盖。
type FileRepository interface {
	// List 返回所有记录的副本，按插入顺序排列。
	List(ctx context.Context) ([]model.FileRecord, error)
	Get(ctx context.Context, id string) (*model.FileRecord, error)
	FindByStoredName(ctx context.Context, storedName string) (*model.FileRecord, error)
	// Append 追加一条记录，ID 或 StoredName 冲突时返回错误，绝不覆盖已有记录。
	Append(ctx context.Context, record *model.FileRecord) error
	// Update 在存储锁内读取、修改并持久化一条记录。
	// ID、StoredName、UploadedAt 不可修改，fn 对它们的改动会被还原。
	Update(ctx context.Context, id string, fn func(record *model.FileRecord) error) error
	// Remove 删除记录，返回是否真的删除了内容。
	Remove(ctx context.Context, id string) (bool, error)
}

// restoreImmutable 还原 Update 回调中被改动的不可变字段。
func restoreImmutable(before model.FileRecord, after *model.FileRecord) {
	after.ID = before.ID
	after.StoredName = before.StoredName
	after.StoredPath = before.StoredPath
	after.UploadedAt = before.UploadedAt
}
