package model

import "time"

// FileSearchDoc 定义了存储在 Elasticsearch 中的文件文档结构。
type FileSearchDoc struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	StoredName   string    `json:"stored_name"`
	OriginalName string    `json:"original_name,omitempty"`
	FileType     FileType  `json:"file_type"`
	MimeType     string    `json:"mime_type,omitempty"`
	SizeBytes    int64     `json:"size_bytes"`
	Uploader     string    `json:"uploader"`
	UploadedAt   time.Time `json:"uploaded_at"`
	Relayed      bool      `json:"relayed"`
}

// SearchHit 是一次搜索返回的单条结果。
type SearchHit struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
}
