package mediatypes

import (
	"mime"
	"path/filepath"
	"strings"
)

// videoTypes maps lowercase extensions to video MIME types.
var videoTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/x-m4v",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".3gp":  "video/3gpp",
	".ts":   "video/mp2t",
	".ogv":  "video/ogg",
}

// outputExtensions is the file extension for each container the encoder
// can produce.
var outputExtensions = map[string]string{
	"video/mp4":  ".mp4",
	"video/webm": ".webm",
}

// ByExtension returns the MIME type for a filename's extension, falling back
// to the system table. It returns "" when nothing is known.
func ByExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return ""
	}
	if t, ok := videoTypes[ext]; ok {
		return t
	}
	return mime.TypeByExtension(ext)
}

// IsVideo reports whether contentType is a video/* type. Parameters such as
// codecs are ignored.
func IsVideo(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "video/")
}

// Resolve picks the content type of an upload: the declared type when there
// is a usable one, otherwise the type implied by the filename.
func Resolve(declared, filename string) string {
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if t := ByExtension(filename); t != "" {
		return t
	}
	return declared
}

// OutputExtension returns the file extension for an encoded output, or
// ".bin" for containers it does not know.
func OutputExtension(mimeType string) string {
	if ext, ok := outputExtensions[mimeType]; ok {
		return ext
	}
	return ".bin"
}
