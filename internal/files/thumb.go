package files

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"path"
	"strings"

	// decoders
	_ "image/gif"
	_ "image/png"

	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/org/sharebox/internal/permission"
	"github.com/org/sharebox/internal/tree"
)

const defaultThumbSize = 256

// IsImage reports whether name has an extension thumbnails are made for.
func IsImage(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	default:
		return false
	}
}

// Thumbnail returns a JPEG preview of the image at p. Results are cached on
// the state filesystem keyed by path and modification time.
func (m *Manager) Thumbnail(p string) ([]byte, error) {
	key, err := permission.Normalize(p)
	if err != nil {
		return nil, err
	}
	fi, err := tree.Stat(m.root, key, m.opts.Tree)
	if err != nil {
		return nil, err
	}
	if fi.IsDir() {
		return nil, fmt.Errorf("%q: %w", key, ErrIsDirectory)
	}
	if !IsImage(key) {
		return nil, fmt.Errorf("%q: %w", key, ErrNotImage)
	}

	var cached string
	if m.state != nil && m.opts.ThumbDir != "" {
		cached = path.Join(m.opts.ThumbDir, fmt.Sprintf("%s-%d-%d.jpg", cacheKey(key), fi.ModTime().Unix(), m.opts.ThumbSize))
		if b, err := afero.ReadFile(m.state, cached); err == nil {
			return b, nil
		}
	}

	b, err := m.makeThumb(key)
	if err != nil {
		return nil, err
	}
	if cached != "" {
		if err := m.state.MkdirAll(m.opts.ThumbDir, 0o755); err == nil {
			if err := afero.WriteFile(m.state, cached, b, 0o644); err != nil {
				log.Warn().Err(err).Str("path", key).Msg("caching thumbnail failed")
			}
		}
	}
	return b, nil
}

func (m *Manager) makeThumb(key string) ([]byte, error) {
	f, err := m.root.Open(tree.FSPath(key))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%q: %w", key, ErrNotImage)
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%q: %w", key, ErrNotImage)
	}
	nw, nh := fit(w, h, m.opts.ThumbSize)

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: 82}); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// fit scales w x h down so the longer edge is at most max.
func fit(w, h, max int) (int, int) {
	nw, nh := w, h
	if w > h {
		if w > max {
			nw = max
			nh = int(float64(h) * (float64(max) / float64(w)))
		}
	} else if h > max {
		nh = max
		nw = int(float64(w) * (float64(max) / float64(h)))
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

func cacheKey(rel string) string {
	return strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(rel)
}
