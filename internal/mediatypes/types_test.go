package mediatypes

import "testing"

func TestByExtension(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"clip.mp4", "video/mp4"},
		{"CLIP.MOV", "video/quicktime"},
		{"movie.mkv", "video/x-matroska"},
		{"/tmp/a/b.webm", "video/webm"},
		{"noext", ""},
		{"photo.jpg", "image/jpeg"},
	}

	for _, tt := range tests {
		if got := ByExtension(tt.filename); got != tt.want {
			t.Errorf("ByExtension(%q) = %q, want %q", tt.filename, got, tt.want)
		}
	}
}

func TestIsVideo(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"video/mp4", true},
		{`video/mp4; codecs="avc1.42E01E"`, true},
		{"VIDEO/WEBM", true},
		{"audio/mp4", false},
		{"text/plain", false},
		{"", false},
		{";;;", false},
	}

	for _, tt := range tests {
		if got := IsVideo(tt.contentType); got != tt.want {
			t.Errorf("IsVideo(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		filename string
		want     string
	}{
		{"declared wins", "video/webm", "clip.mp4", "video/webm"},
		{"octet-stream falls back", "application/octet-stream", "clip.mov", "video/quicktime"},
		{"missing falls back", "", "clip.mkv", "video/x-matroska"},
		{"unknown extension keeps declared", "application/octet-stream", "clip.xyz123", "application/octet-stream"},
		{"nothing known", "", "clip", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.declared, tt.filename); got != tt.want {
				t.Errorf("Resolve(%q, %q) = %q, want %q", tt.declared, tt.filename, got, tt.want)
			}
		})
	}
}

func TestOutputExtension(t *testing.T) {
	tests := map[string]string{
		"video/mp4":           ".mp4",
		"video/webm":          ".webm",
		"video/x-motion-jpeg": ".bin",
		"":                    ".bin",
	}

	for mimeType, want := range tests {
		if got := OutputExtension(mimeType); got != want {
			t.Errorf("OutputExtension(%q) = %q, want %q", mimeType, got, want)
		}
	}
}
