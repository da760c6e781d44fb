package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"teledrive-go/internal/model"
)

// GormFileRepository 是 FileRepository 的 GORM 实现，记录保存在 file_record 表中。
// 唯一索引保证 ID 和 StoredName 不重复，修改操作在事务内加行锁完成。
type GormFileRepository struct {
	db *gorm.DB
}

// NewGormFileRepository 创建仓库并自动迁移表结构。
func NewGormFileRepository(db *gorm.DB) (*GormFileRepository, error) {
	if err := db.AutoMigrate(&model.FileRecordRow{}); err != nil {
		return nil, fmt.Errorf("迁移 file_record 表失败: %w", err)
	}
	return &GormFileRepository{db: db}, nil
}

func (r *GormFileRepository) List(ctx context.Context) ([]model.FileRecord, error) {
	var rows []model.FileRecordRow
	if err := r.db.WithContext(ctx).Order("seq asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.FileRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.Record())
	}
	return out, nil
}

func (r *GormFileRepository) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	return r.first(r.db.WithContext(ctx), "id = ?", id)
}

func (r *GormFileRepository) FindByStoredName(ctx context.Context, storedName string) (*model.FileRecord, error) {
	return r.first(r.db.WithContext(ctx), "stored_name = ?", storedName)
}

func (r *GormFileRepository) first(tx *gorm.DB, query string, arg string) (*model.FileRecord, error) {
	var row model.FileRecordRow
	err := tx.Where(query, arg).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	rec := row.Record()
	return &rec, nil
}

// Append 在事务中检查冲突后插入，唯一索引兜底并发插入的情况。
func (r *GormFileRepository) Append(ctx context.Context, record *model.FileRecord) error {
	if record.ID == "" || record.StoredName == "" {
		return ErrInvalidRecord
	}
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.FileRecordRow{}).Where("id = ?", record.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateID
		}
		if err := tx.Model(&model.FileRecordRow{}).Where("stored_name = ?", record.StoredName).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicateStoredName
		}
		row := model.NewFileRecordRow(*record)
		return tx.Create(&row).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return r.duplicateOf(ctx, record, err)
	}
	return err
}

// duplicateOf 在唯一索引冲突后重新查询，判断是哪一个键被占用。
func (r *GormFileRepository) duplicateOf(ctx context.Context, record *model.FileRecord, cause error) error {
	if _, err := r.Get(ctx, record.ID); err == nil {
		return ErrDuplicateID
	}
	if _, err := r.FindByStoredName(ctx, record.StoredName); err == nil {
		return ErrDuplicateStoredName
	}
	return fmt.Errorf("插入文件记录时发生唯一键冲突: %w", cause)
}

func (r *GormFileRepository) Update(ctx context.Context, id string, fn func(record *model.FileRecord) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.FileRecordRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		if err != nil {
			return err
		}

		before := row.Record()
		updated := before.Clone()
		if err := fn(&updated); err != nil {
			return err
		}
		restoreImmutable(before, &updated)

		next := model.NewFileRecordRow(updated)
		next.Seq = row.Seq
		return tx.Save(&next).Error
	})
}

func (r *GormFileRepository) Remove(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.FileRecordRow{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
