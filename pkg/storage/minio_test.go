package storage

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teledrive-go/internal/config"
	"teledrive-go/internal/model"
)

func TestMirror_OpenRemotePresignsObject(t *testing.T) {
	// 指定 Region 后预签名不需要访问服务端
	client, err := NewMinIOClient(config.MinIOConfig{
		Endpoint:        "127.0.0.1:9000",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Region:          "us-east-1",
	})
	require.NoError(t, err)
	m := NewMirror(client, "teledrive", 10*time.Minute)
	assert.Equal(t, Provider, m.Provider())

	rec := model.FileRecord{StoredName: "photo_1700000000000_a1b2c3d4.jpg"}
	key := ObjectKey(rec)
	assert.Equal(t, "files/photo_1700000000000_a1b2c3d4.jpg", key)

	content, err := m.OpenRemote(context.Background(), model.RemoteReference{Provider: Provider, ObjectKey: key})
	require.NoError(t, err)
	assert.Nil(t, content.Body)

	u, err := url.Parse(content.RedirectURL)
	require.NoError(t, err)
	assert.Equal(t, "/teledrive/"+key, u.Path)
	assert.Equal(t, "600", u.Query().Get("X-Amz-Expires"))
	assert.NotEmpty(t, u.Query().Get("X-Amz-Signature"))
}

func TestMirror_DeleteWithoutObjectKeyIsNoop(t *testing.T) {
	client, err := NewMinIOClient(config.MinIOConfig{Endpoint: "127.0.0.1:9000", Region: "us-east-1"})
	require.NoError(t, err)
	m := NewMirror(client, "teledrive", 0)
	assert.NoError(t, m.DeleteRemote(context.Background(), model.RemoteReference{Provider: "telegram", MessageID: 1}))
}
