// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"teledrive-go/internal/config"
	"teledrive-go/internal/model"
	"teledrive-go/pkg/log"
)

var ESClient *elasticsearch.Client

// fileMapping 是文件索引的结构。display_name 同时提供全文和 keyword 两种查询方式。
const fileMapping = `{
	"mappings": {
		"properties": {
			"id": { "type": "keyword" },
			"display_name": {
				"type": "text",
				"fields": { "keyword": { "type": "keyword", "ignore_above": 256 } }
			},
			"stored_name": { "type": "keyword" },
			"original_name": { "type": "text" },
			"file_type": { "type": "keyword" },
			"mime_type": { "type": "keyword" },
			"size_bytes": { "type": "long" },
			"uploader": { "type": "keyword" },
			"uploaded_at": { "type": "date" },
			"relayed": { "type": "boolean" }
		}
	}
}`

// InitES 初始化 Elasticsearch 客户端
func InitES(esCfg config.ElasticsearchConfig) error {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return err
	}
	ESClient = client
	return createIndexIfNotExists(client, esCfg.IndexName)
}

// createIndexIfNotExists 检查索引是否存在，如果不存在则创建它
func createIndexIfNotExists(client *elasticsearch.Client, indexName string) error {
	res, err := client.Indices.Exists([]string{indexName})
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithBody(strings.NewReader(fileMapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// FileIndex 把文件元数据写入 Elasticsearch，实现 service.SearchIndex。
type FileIndex struct {
	client *elasticsearch.Client
	index  string
}

// NewFileIndex 创建文件索引。
func NewFileIndex(client *elasticsearch.Client, index string) *FileIndex {
	return &FileIndex{client: client, index: index}
}

// IndexFile 写入或覆盖一个文件文档。
func (f *FileIndex) IndexFile(ctx context.Context, doc model.FileSearchDoc) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req := esapi.IndexRequest{
		Index:      f.index,
		DocumentID: doc.ID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, f.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("索引文档到 Elasticsearch 出错: %s", res.String())
		return errors.New("failed to index document")
	}
	return nil
}

// DeleteFile 删除文件文档，文档不存在时不报错。
func (f *FileIndex) DeleteFile(ctx context.Context, id string) error {
	req := esapi.DeleteRequest{Index: f.index, DocumentID: id, Refresh: "true"}
	res, err := req.Do(ctx, f.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("删除文档失败: %s", res.String())
	}
	return nil
}

// SearchFiles 按显示名称检索，返回按得分排序的文件 ID。
func (f *FileIndex) SearchFiles(ctx context.Context, query string, limit int) ([]model.SearchHit, error) {
	if limit <= 0 {
		limit = 20
	}
	body, err := json.Marshal(searchBody(query, limit))
	if err != nil {
		return nil, err
	}
	res, err := f.client.Search(
		f.client.Search.WithContext(ctx),
		f.client.Search.WithIndex(f.index),
		f.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("检索失败: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				ID    string  `json:"_id"`
				Score float64 `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("解析检索结果失败: %w", err)
	}
	hits := make([]model.SearchHit, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		hits = append(hits, model.SearchHit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// searchBody 组合全文匹配和子串匹配，前者负责分词，后者照顾文件名中的片段。
func searchBody(query string, limit int) map[string]any {
	wildcard := "*" + strings.ToLower(query) + "*"
	return map[string]any{
		"size": limit,
		"query": map[string]any{
			"bool": map[string]any{
				"should": []any{
					map[string]any{"match": map[string]any{"display_name": map[string]any{"query": query, "fuzziness": "AUTO"}}},
					map[string]any{"wildcard": map[string]any{"display_name.keyword": map[string]any{"value": wildcard, "case_insensitive": true}}},
					map[string]any{"wildcard": map[string]any{"stored_name": map[string]any{"value": wildcard, "case_insensitive": true}}},
				},
				"minimum_should_match": 1,
			},
		},
	}
}
