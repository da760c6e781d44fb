// Package service 包含了应用的业务逻辑层。
package service

import "errors"

// 上传与文件管理的业务错误，handler 层据此映射 HTTP 状态码。
var (
	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = errors.New("file exceeds the upload limit")
	ErrInvalidFileName = errors.New("invalid file name")
	ErrPartialWrite    = errors.New("file was not written completely")
	ErrFileNotFound    = errors.New("file not found")
	ErrFileGone        = errors.New("file content is no longer available")
	ErrPathEscape      = errors.New("path escapes the upload directory")
)
