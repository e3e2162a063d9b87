package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/org/sharebox/internal/listing"
	"github.com/org/sharebox/internal/permission"
	"github.com/org/sharebox/internal/policy"
	"github.com/org/sharebox/pkg/models"
)

// wildcardPath returns the normalized path captured by a trailing "/*".
func wildcardPath(r *http.Request) (string, error) {
	p := chi.URLParam(r, "*")
	// chi routes on RawPath when it is set, leaving the capture escaped.
	if r.URL.RawPath != "" {
		var err error
		if p, err = url.PathUnescape(p); err != nil {
			return "", permission.ErrInvalidPath
		}
	}
	return permission.Normalize(p)
}

// maxPathField bounds the "currentPath" form field.
const maxPathField = 4096

// visibleTarget resolves the wildcard path and checks that the caller may
// see it. Hidden paths answer 404 so their existence is not revealed.
func (s *Server) visibleTarget(w http.ResponseWriter, r *http.Request) (string, *models.User, bool) {
	user := userFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return "", nil, false
	}
	key, err := wildcardPath(r)
	if err != nil {
		writeServiceError(w, r, err)
		return "", nil, false
	}
	if !s.policy.IsAllowed(user.Groups(), key) {
		writeError(w, http.StatusNotFound, "not found")
		return "", nil, false
	}
	return key, user, true
}

// ListHandler handles GET /api/files/*
func (s *Server) ListHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	key, err := wildcardPath(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	q := r.URL.Query()
	depth := 0
	if d := q.Get("depth"); d != "" {
		depth, err = strconv.Atoi(d)
		if err != nil || depth < 0 {
			writeError(w, http.StatusBadRequest, "invalid depth")
			return
		}
	}

	// One snapshot serves both the visibility check and the listing.
	m := s.perms.Snapshot()
	if !policy.Visible(m, key, permission.NewGroupSet(user.Groups()...)) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	nodes, err := s.listing.List(r.Context(), listing.Request{
		Dir:    key,
		Groups: user.Groups(),
		Depth:  depth,
	}, m)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if q.Get("qr") == "true" {
		s.qr.Annotate(nodes)
	}
	listingNodes.Observe(float64(listing.Count(nodes)))
	writeJSON(w, http.StatusOK, nodes)
}

// DownloadHandler handles GET /data/*
func (s *Server) DownloadHandler(w http.ResponseWriter, r *http.Request) {
	key, _, ok := s.visibleTarget(w, r)
	if !ok {
		return
	}
	f, info, err := s.files.Open(key)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer f.Close()

	disposition := "inline"
	if r.URL.Query().Get("download") == "true" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": info.Name()}))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// DeleteHandler handles DELETE /api/files/*. Deleting a folder also deletes
// its contents, so every entry below it must be visible to the caller.
func (s *Server) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	key, user, ok := s.visibleTarget(w, r)
	if !ok {
		return
	}
	if !s.policy.SubtreeAllowed(user.Groups(), key) {
		writeError(w, http.StatusForbidden, "folder contains items you cannot access")
		return
	}
	if err := s.files.Delete(r.Context(), key); err != nil {
		writeServiceError(w, r, err)
		return
	}
	permissionEntries.Set(float64(s.perms.Snapshot().Len()))
	writeJSON(w, http.StatusOK, map[string]any{"path": key, "deleted": true})
}

// RenameHandler handles PUT /api/files/*
func (s *Server) RenameHandler(w http.ResponseWriter, r *http.Request) {
	key, user, ok := s.visibleTarget(w, r)
	if !ok {
		return
	}
	var req struct {
		NewName string `json:"newName"`
	}
	if err := decodeJSON(r, &req); err != nil || req.NewName == "" {
		writeError(w, http.StatusBadRequest, "newName is required")
		return
	}
	dst, err := permission.Join(permission.Parent(key), req.NewName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	// A hidden name answers 404 rather than 409.
	if !s.policy.IsAllowed(user.Groups(), dst) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	dst, err = s.files.Rename(r.Context(), key, req.NewName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": dst})
}

// CreateFolderHandler handles POST /api/create-folder. Only admins may
// restrict the new folder to explicit groups.
func (s *Server) CreateFolderHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	var req struct {
		Path   string   `json:"path"`
		Name   string   `json:"name"`
		Groups []string `json:"groups"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if len(req.Groups) > 0 && !user.IsAdmin() {
		writeError(w, http.StatusForbidden, "admin role required to set groups")
		return
	}
	parent, err := permission.Normalize(req.Path)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	key, err := permission.Join(parent, req.Name)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if !s.policy.IsAllowed(user.Groups(), key) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	key, err = s.files.Mkdir(r.Context(), parent, req.Name, req.Groups)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	groups, _ := s.perms.Snapshot().Lookup(key)
	permissionEntries.Set(float64(s.perms.Snapshot().Len()))
	writeJSON(w, http.StatusCreated, map[string]any{"path": key, "groups": groups})
}

// UploadHandler handles POST /api/upload. The body is multipart; the target
// directory comes from the "currentPath" field, which must precede the file
// parts, or from the "path" query parameter. Every "file" part is stored.
func (s *Server) UploadHandler(w http.ResponseWriter, r *http.Request) {
	user := userFromCtx(r.Context())
	if user == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart body required")
		return
	}

	dir := r.URL.Query().Get("path")
	type uploaded struct {
		Path string `json:"path"`
		Size int64  `json:"size"`
	}
	var out []uploaded
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if !uploadTooLarge(w, err) {
				writeError(w, http.StatusBadRequest, "malformed multipart body")
			}
			return
		}

		switch part.FormName() {
		case "currentPath":
			b, err := io.ReadAll(io.LimitReader(part, maxPathField+1))
			if err != nil {
				if !uploadTooLarge(w, err) {
					writeError(w, http.StatusBadRequest, "malformed multipart body")
				}
				return
			}
			if len(b) > maxPathField {
				writeError(w, http.StatusBadRequest, "currentPath too long")
				return
			}
			dir = string(b)
		case "file":
			if part.FileName() == "" {
				writeError(w, http.StatusBadRequest, "file name is required")
				return
			}
			target, err := permission.Normalize(dir)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			key, err := permission.Join(target, part.FileName())
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			// Checking the file as well as the folder keeps a hidden file
			// from being replaced.
			if !s.policy.IsAllowed(user.Groups(), key) {
				writeError(w, http.StatusNotFound, "not found")
				return
			}
			key, n, err := s.files.Upload(r.Context(), target, part.FileName(), part)
			if err != nil {
				if !uploadTooLarge(w, err) {
					writeServiceError(w, r, err)
				}
				return
			}
			out = append(out, uploaded{Path: key, Size: n})
		}
		part.Close()
	}
	if len(out) == 0 {
		writeError(w, http.StatusBadRequest, "no file in request")
		return
	}
	permissionEntries.Set(float64(s.perms.Snapshot().Len()))
	writeJSON(w, http.StatusCreated, map[string]any{"files": out})
}

// uploadTooLarge answers 413 when err comes from the body limit, wherever
// the multipart reader noticed it.
func uploadTooLarge(w http.ResponseWriter, err error) bool {
	var tooLarge *http.MaxBytesError
	if !errors.As(err, &tooLarge) {
		return false
	}
	writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
	return true
}

// QRHandler handles GET /api/qr/*
func (s *Server) QRHandler(w http.ResponseWriter, r *http.Request) {
	key, _, ok := s.visibleTarget(w, r)
	if !ok {
		return
	}
	info, err := s.files.Stat(key)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	png, err := s.qr.PNG(key, info.IsDir())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Share-URL", s.qr.URL(key, info.IsDir()))
	w.Write(png) //nolint:errcheck
}

// ThumbHandler handles GET /api/thumb/*
func (s *Server) ThumbHandler(w http.ResponseWriter, r *http.Request) {
	key, _, ok := s.visibleTarget(w, r)
	if !ok {
		return
	}
	b, err := s.files.Thumbnail(key)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.Write(b) //nolint:errcheck
}
