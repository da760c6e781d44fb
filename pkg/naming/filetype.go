package naming

import "strings"

var extClasses = map[string]FileClass{
	".jpg":  ClassPhoto,
	".jpeg": ClassPhoto,
	".png":  ClassPhoto,
	".gif":  ClassPhoto,
	".webp": ClassPhoto,
	".heic": ClassPhoto,
	".mp4":  ClassVideo,
	".mov":  ClassVideo,
	".avi":  ClassVideo,
	".mkv":  ClassVideo,
	".webm": ClassVideo,
	".mp3":  ClassAudio,
	".wav":  ClassAudio,
	".ogg":  ClassAudio,
	".m4a":  ClassAudio,
	".flac": ClassAudio,
}

// ClassFromMIME 根据 MIME 类型推断类别，无法判断时返回 ClassDocument。
func ClassFromMIME(mime string) FileClass {
	mime = strings.ToLower(strings.TrimSpace(mime))
	switch {
	case strings.HasPrefix(mime, "image/"):
		return ClassPhoto
	case strings.HasPrefix(mime, "video/"):
		return ClassVideo
	case strings.HasPrefix(mime, "audio/"):
		return ClassAudio
	}
	return ClassDocument
}

// ClassFromName 根据扩展名推断类别。
func ClassFromName(name string) FileClass {
	if c, ok := extClasses[Ext(name)]; ok {
		return c
	}
	return ClassDocument
}
