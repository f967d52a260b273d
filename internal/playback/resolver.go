package playback

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"chime/internal/schedule"
	logx "chime/pkg/logx"
)

// losslessExts are preferred for the device delegation path: the external
// facility fires against an exact file path, and an uncompressed rendition
// is the more reliable target than a lossy transcode.
var losslessExts = []string{".wav", ".flac", ".aiff"}

func isLossless(ext string) bool {
	return slices.Contains(losslessExts, strings.ToLower(ext))
}

// LocalResolver resolves clip references against a set of local clip roots.
type LocalResolver struct {
	roots []string
	log   logx.Logger
}

func NewLocalResolver(roots []string, log logx.Logger) *LocalResolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LocalResolver{roots: roots, log: log}
}

// Resolve prefers, in order: an explicit existing FilePath; a lossless
// sibling of that path; a file found under the clip roots by URL basename
// (again preferring a lossless sibling). When nothing resolves, the clip
// URL alone is returned so in-process playback still works; the degraded
// confidence for device delegation is recorded in the log.
func (r *LocalResolver) Resolve(ctx context.Context, clip schedule.Clip) (Resolved, error) {
	_ = ctx

	if p := strings.TrimSpace(clip.FilePath); p != "" {
		if best, lossless, ok := r.bestRendition(p); ok {
			return Resolved{Locator: best, FilePath: best, Lossless: lossless}, nil
		}
	}

	if base := urlBasename(clip.URL); base != "" {
		for _, root := range r.roots {
			cand := filepath.Join(root, base)
			if best, lossless, ok := r.bestRendition(cand); ok {
				return Resolved{Locator: best, FilePath: best, Lossless: lossless}, nil
			}
		}
	}

	r.log.Warn("clip did not resolve to a local file; device delegation will use the raw locator",
		logx.String("clip", clip.Name), logx.String("url", clip.URL))
	return Resolved{Locator: clip.URL}, nil
}

// bestRendition returns the preferred existing rendition for a candidate
// path: a lossless sibling when one exists, otherwise the path itself.
func (r *LocalResolver) bestRendition(path string) (best string, lossless, ok bool) {
	ext := filepath.Ext(path)
	if !isLossless(ext) {
		stem := strings.TrimSuffix(path, ext)
		for _, alt := range losslessExts {
			if sibling := stem + alt; fileExists(sibling) {
				return sibling, true, true
			}
		}
	}
	if fileExists(path) {
		return path, isLossless(ext), true
	}
	return "", false, false
}

func urlBasename(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" {
		return filepath.Base(raw)
	}
	b := filepath.Base(u.Path)
	if b == "." || b == "/" {
		return ""
	}
	return b
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
