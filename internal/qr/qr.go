// Package qr renders share links for files and folders as QR codes.
package qr

import (
	"encoding/base64"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/org/sharebox/internal/listing"
)

// DefaultSize is the edge length in pixels of generated codes.
const DefaultSize = 256

// Generator builds share URLs and encodes them. Folders link to the web UI,
// files link to the download endpoint.
type Generator struct {
	BackendURL  string
	FrontendURL string
	Size        int
}

// New returns a Generator for the given public base URLs.
func New(backendURL, frontendURL string) *Generator {
	return &Generator{
		BackendURL:  strings.TrimRight(backendURL, "/"),
		FrontendURL: strings.TrimRight(frontendURL, "/"),
		Size:        DefaultSize,
	}
}

// URL returns the share link for a root-relative path.
func (g *Generator) URL(rel string, isDir bool) string {
	if isDir {
		return g.FrontendURL + "/files/" + escapePath(rel)
	}
	return g.BackendURL + "/data/" + escapePath(rel)
}

// PNG encodes the share link for rel as a PNG image.
func (g *Generator) PNG(rel string, isDir bool) ([]byte, error) {
	size := g.Size
	if size <= 0 {
		size = DefaultSize
	}
	return qrcode.Encode(g.URL(rel, isDir), qrcode.Medium, size)
}

// DataURL returns the code as a base64 PNG data URL.
func (g *Generator) DataURL(rel string, isDir bool) (string, error) {
	png, err := g.PNG(rel, isDir)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// Annotate fills QRCode on every node of a listing. Nodes whose code cannot
// be generated are left without one.
func (g *Generator) Annotate(nodes []*listing.Node) {
	listing.Walk(nodes, func(n *listing.Node) {
		code, err := g.DataURL(n.Path, n.IsDirectory)
		if err != nil {
			log.Warn().Err(err).Str("path", n.Path).Msg("qr generation failed")
			return
		}
		n.QRCode = code
	})
}

func escapePath(rel string) string {
	parts := strings.Split(rel, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
