// Package naming 生成不会冲突的磁盘文件名，并能从生成的文件名中尽量还原可读名称。
//
// 生成格式: <prefix>_<13 位毫秒时间戳>_<8 位十六进制><扩展名>
package naming

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"io"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"
)

// FileClass 是文件名前缀描述的上传类别。
type FileClass string

const (
	ClassFile     FileClass = "file"
	ClassPhoto    FileClass = "photo"
	ClassVideo    FileClass = "video"
	ClassAudio    FileClass = "audio"
	ClassDocument FileClass = "document"
)

const (
	maxStemRunes = 80
	suffixLen    = 8
)

var extPattern = regexp.MustCompile(`^\.[a-z0-9]{1,10}$`)

// Generator 生成唯一的磁盘文件名，可并发使用。
type Generator struct {
	now  func() time.Time
	rand io.Reader

	mu     sync.Mutex
	lastMs int64
	seq    uint64
	issued map[string]struct{}
}

// Option 配置 Generator。
type Option func(*Generator)

// WithClock 替换时钟，测试时用来固定毫秒值。
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithRand 替换随机源。
func WithRand(r io.Reader) Option {
	return func(g *Generator) { g.rand = r }
}

// NewGenerator 创建一个 Generator。
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		now:    time.Now,
		rand:   rand.Reader,
		issued: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate 返回 <class>_<ts>_<hash><ext> 形式的文件名。未知的 class 按 file 处理。
func (g *Generator) Generate(class FileClass, originalName string) string {
	switch class {
	case ClassPhoto, ClassVideo, ClassAudio, ClassDocument:
	default:
		class = ClassFile
	}
	return g.build(string(class), originalName)
}

// GenerateNamed 以清洗后的原始文件名主体作为前缀，生成可被 Recover 还原的文件名。
func (g *Generator) GenerateNamed(originalName string) string {
	base := BaseName(originalName)
	stem := base
	if Ext(originalName) != "" {
		stem = strings.TrimSuffix(base, path.Ext(base))
	}
	stem = SafeStem(stem)
	if stem == "" || isFixedPrefix(stem) {
		stem = string(ClassFile)
	}
	return g.build(stem, originalName)
}

func (g *Generator) build(prefix, originalName string) string {
	ms, suffix := g.next(originalName)
	return prefix + "_" + strconv.FormatInt(ms, 10) + "_" + suffix + Ext(originalName)
}

// next 返回时间戳和同一毫秒内不重复的后缀。
func (g *Generator) next(originalName string) (int64, string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().UnixMilli()
	if ms != g.lastMs {
		g.lastMs = ms
		g.issued = make(map[string]struct{})
	}
	for {
		g.seq++
		suffix := g.suffix(originalName, ms, g.seq)
		if _, dup := g.issued[suffix]; dup {
			continue
		}
		g.issued[suffix] = struct{}{}
		return ms, suffix
	}
}

func (g *Generator) suffix(originalName string, ms int64, seq uint64) string {
	var entropy [8]byte
	if _, err := io.ReadFull(g.rand, entropy[:]); err != nil {
		// 随机源不可用时退化为纳秒时间，唯一性仍由 issued 集合保证
		binary.BigEndian.PutUint64(entropy[:], uint64(time.Now().UnixNano()))
	}
	h := md5.New()
	_, _ = io.WriteString(h, originalName)
	_, _ = io.WriteString(h, strconv.FormatInt(ms, 10))
	_, _ = h.Write(entropy[:])
	_, _ = io.WriteString(h, strconv.FormatUint(seq, 10))
	return hex.EncodeToString(h.Sum(nil))[:suffixLen]
}

// BaseName 对原始名称做百分号解码，丢弃控制字符，并只保留最后一级路径。
func BaseName(originalName string) string {
	name := originalName
	if strings.Contains(name, "%") {
		if decoded, err := url.PathUnescape(name); err == nil {
			name = decoded
		}
	}
	name = strings.Map(func(r rune) rune {
		if r == utf8.RuneError || unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.TrimRight(name, "/")
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == ".." || base == "/" {
		return ""
	}
	return base
}

// Ext 返回小写、带点的扩展名；没有合法扩展名时返回空字符串。
func Ext(originalName string) string {
	base := BaseName(originalName)
	ext := strings.ToLower(path.Ext(base))
	if ext == "" || ext == strings.ToLower(base) {
		// 没有扩展名，或是 .bashrc 这样的隐藏文件
		return ""
	}
	if !extPattern.MatchString(ext) {
		return ""
	}
	return ext
}

// SafeStem 只保留字母、数字和 - . _，其余字符替换为下划线。
func SafeStem(stem string) string {
	var b strings.Builder
	n := 0
	for _, r := range stem {
		if n >= maxStemRunes {
			break
		}
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '.', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		n++
	}
	return strings.TrimLeft(b.String(), "._")
}
