package naming

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// NameSource 标记显示名称的可信程度。
type NameSource string

const (
	// SourceExplicit 上传时记录下来的原始文件名。
	SourceExplicit NameSource = "explicit"
	// SourceRecovered 从 <name>_<ts>_<hash> 结构中还原出的名称。
	SourceRecovered NameSource = "recovered"
	// SourceFallback 类别标签或磁盘文件名本身，原始名称已经丢失。
	SourceFallback NameSource = "fallback"
)

// DisplayName 是带来源标记的显示名称。
type DisplayName struct {
	Name   string     `json:"name"`
	Source NameSource `json:"source"`
}

var storedPattern = regexp.MustCompile(`^(.+)_(\d{13})_([0-9a-f]{8})(\.[^._]+)?$`)

var classLabels = map[string]string{
	"file":     "File",
	"temp":     "File",
	"photo":    "Photo",
	"video":    "Video",
	"audio":    "Audio",
	"document": "Document",
}

func isFixedPrefix(s string) bool {
	_, ok := classLabels[s]
	return ok
}

// Recover 从磁盘文件名推断显示名称。
//
// 这是尽力而为的启发式方法，不是 Generate 的逆运算：固定前缀生成的文件名只能还原为类别标签，
// 真正的原始名称从未写入文件名。
func Recover(storedName string) DisplayName {
	base := strings.ReplaceAll(storedName, "\\", "/")
	base = path.Base(base)
	if base == "." || base == "/" {
		return DisplayName{Name: storedName, Source: SourceFallback}
	}

	m := storedPattern.FindStringSubmatch(base)
	if m == nil {
		return DisplayName{Name: base, Source: SourceFallback}
	}
	if label, ok := classLabels[m[1]]; ok {
		return DisplayName{Name: label, Source: SourceFallback}
	}
	return DisplayName{Name: m[1], Source: SourceRecovered}
}

// Resolve 优先使用显式的原始名称（必要时做百分号解码），否则回退到 Recover。
func Resolve(originalName, storedName string) DisplayName {
	if originalName != "" {
		if strings.Contains(originalName, "%") {
			if decoded, err := url.PathUnescape(originalName); err == nil {
				return DisplayName{Name: decoded, Source: SourceExplicit}
			}
		}
		return DisplayName{Name: originalName, Source: SourceExplicit}
	}
	return Recover(storedName)
}
