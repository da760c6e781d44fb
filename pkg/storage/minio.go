// Package storage提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"teledrive-go/internal/config"
	"teledrive-go/internal/model"
	"teledrive-go/internal/service"
	"teledrive-go/pkg/log"
)

// Provider 是远端引用中 MinIO 镜像的标识。
const Provider = "minio"

// MinioClient 是一个全局的 MinIO 客户端实例，未配置 endpoint 时为 nil。
var MinioClient *minio.Client

// NewMinIOClient 根据配置创建客户端，不访问网络。
func NewMinIOClient(cfg config.MinIOConfig) (*minio.Client, error) {
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
}

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(ctx context.Context, cfg config.MinIOConfig) error {
	client, err := NewMinIOClient(cfg)
	if err != nil {
		return fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}
	log.Info("MinIO 客户端初始化成功")

	// 检查存储桶 (Bucket) 是否存在，如果不存在则创建
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	} else {
		log.Infof("存储桶 '%s' 已存在", cfg.BucketName)
	}
	MinioClient = client
	return nil
}

// Mirror 把上传的文件镜像到 MinIO 存储桶，同时实现 service.RemoteStore。
type Mirror struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

// NewMirror 创建镜像，expiry 为预签名下载链接的有效期。
func NewMirror(client *minio.Client, bucket string, expiry time.Duration) *Mirror {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &Mirror{client: client, bucket: bucket, expiry: expiry}
}

func (m *Mirror) Provider() string {
	return Provider
}

// ObjectKey 返回记录在存储桶中的对象名。
func ObjectKey(rec model.FileRecord) string {
	return "files/" + rec.StoredName
}

// Relay 上传本地文件到存储桶。
func (m *Mirror) Relay(ctx context.Context, rec model.FileRecord, localPath, displayName, caption string) (*model.RemoteReference, error) {
	key := ObjectKey(rec)
	opts := minio.PutObjectOptions{
		ContentType:  rec.MimeType,
		UserMetadata: map[string]string{"record-id": rec.ID},
	}
	if _, err := m.client.FPutObject(ctx, m.bucket, key, localPath, opts); err != nil {
		return nil, fmt.Errorf("上传到 MinIO 失败: %w", err)
	}
	log.Infof("[MinIO] 文件已镜像, id=%s, object=%s", rec.ID, key)
	return &model.RemoteReference{
		Provider:  Provider,
		ObjectKey: key,
		RelayedAt: time.Now().UTC(),
	}, nil
}

func (m *Mirror) DeleteRemote(ctx context.Context, ref model.RemoteReference) error {
	if ref.ObjectKey == "" {
		return nil
	}
	return m.client.RemoveObject(ctx, m.bucket, ref.ObjectKey, minio.RemoveObjectOptions{})
}

// OpenRemote 返回预签名的下载链接。
func (m *Mirror) OpenRemote(ctx context.Context, ref model.RemoteReference) (*service.RemoteContent, error) {
	link, err := GetPresignedURL(ctx, m.client, m.bucket, ref.ObjectKey, m.expiry)
	if err != nil {
		return nil, err
	}
	return &service.RemoteContent{RedirectURL: link}, nil
}

// GetPresignedURL generates a presigned URL for a given object.
func GetPresignedURL(ctx context.Context, client *minio.Client, bucketName, objectName string, expiry time.Duration) (string, error) {
	presignedURL, err := client.PresignedGetObject(ctx, bucketName, objectName, expiry, nil)
	if err != nil {
		log.Errorf("Error generating presigned URL: %s", err)
		return "", err
	}
	return presignedURL.String(), nil
}
