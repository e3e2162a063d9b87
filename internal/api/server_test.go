package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/org/sharebox/internal/permission"
	"github.com/org/sharebox/internal/storage"
	"github.com/org/sharebox/internal/tree"
	"github.com/org/sharebox/pkg/models"
)

// --- test helpers ---

type testEnv struct {
	srv     *Server
	handler http.Handler
	dir     string
	store   storage.Backend
}

// newTestServer serves a temp directory holding
//
//	docs/readme.txt
//	photos/beach.jpg
//	photos/private/secret.txt   (Staff only)
//
// with accounts admin (Admin), alice (Staff) and guest (no group).
func newTestServer(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	for rel, body := range map[string]string{
		"docs/readme.txt":           "read me",
		"photos/beach.jpg":          "not really a jpeg",
		"photos/private/secret.txt": "top secret",
	} {
		abs := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	state := afero.NewMemMapFs()
	store, err := storage.NewJSONBackend(state, "/state", 100)
	if err != nil {
		t.Fatalf("creating backend: %v", err)
	}
	perms := permission.NewStore(state, "/state/"+permission.DocumentName)
	root := afero.NewBasePathFs(afero.NewOsFs(), dir)

	srv := NewServer(store, perms, root, state, Config{
		Tree:        tree.Options{Ignore: []string{".DS_Store"}},
		BackendURL:  "http://files.test",
		FrontendURL: "http://ui.test",
		SessionTTL:  time.Hour,
		ThumbDir:    "/state/thumbs",
	})
	if _, _, err := srv.Reconcile(ctx, ""); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if _, err := perms.Replace(ctx, "photos/private", "Staff"); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.Users().EnsureDefaultAdmin(ctx, "admin", "admin"); err != nil {
		t.Fatal(err)
	}
	if err := srv.Groups().Seed(ctx, []string{"Staff", "Sales"}); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.Users().Create(ctx, "alice", "alice-pw", models.RoleUser, "Staff"); err != nil {
		t.Fatal(err)
	}
	if _, err := srv.Users().Create(ctx, "guest", "guest-pw", models.RoleUser, ""); err != nil {
		t.Fatal(err)
	}

	return &testEnv{srv: srv, handler: srv.BuildRouter(), dir: dir, store: store}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		rdr = bytes.NewReader(data)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T, username, password string) *http.Cookie {
	t.Helper()
	w := e.do(t, "POST", "/login", map[string]string{"username": username, "password": password}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login %s failed: %d %s", username, w.Code, w.Body.String())
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	t.Fatalf("login %s: no session cookie", username)
	return nil
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, w.Body.String())
	}
	return result
}

func decodeNodes(t *testing.T, w *httptest.ResponseRecorder) []map[string]any {
	t.Helper()
	var nodes []map[string]any
	if err := json.NewDecoder(w.Body).Decode(&nodes); err != nil {
		t.Fatalf("decoding listing: %v (body: %s)", err, w.Body.String())
	}
	return nodes
}

func childNames(n map[string]any) []string {
	var names []string
	children, _ := n["children"].([]any)
	for _, c := range children {
		names = append(names, c.(map[string]any)["name"].(string))
	}
	return names
}

func findNode(nodes []map[string]any, name string) map[string]any {
	for _, n := range nodes {
		if n["name"] == name {
			return n
		}
	}
	return nil
}

// --- tests ---

func TestHealthEndpoint(t *testing.T) {
	e := newTestServer(t)
	w := e.do(t, "GET", "/healthz", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %v", body["status"])
	}
	// docs, docs/readme.txt, photos, photos/beach.jpg, photos/private, photos/private/secret.txt
	if n, _ := body["permissionEntries"].(float64); n != 6 {
		t.Errorf("expected 6 permission entries, got %v", body["permissionEntries"])
	}
}

func TestMetricsUseRoutePatterns(t *testing.T) {
	e := newTestServer(t)
	e.do(t, "GET", "/healthz", nil, nil)
	cookie := e.login(t, "admin", "admin")
	e.do(t, "GET", "/api/files/docs", nil, cookie)

	w := e.do(t, "GET", "/metrics", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	body := w.Body.String()
	for _, want := range []string{
		`sharebox_requests_total{method="GET",route="/healthz",status="200"}`,
		`route="/api/files/*"`,
		"sharebox_permission_entries",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
	if strings.Contains(body, `route="/api/files/docs"`) {
		t.Error("file paths must not become label values")
	}
}

func TestLoginLogoutAndCheckAuth(t *testing.T) {
	e := newTestServer(t)

	w := e.do(t, "GET", "/check-auth", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without cookie, got %d", w.Code)
	}

	w = e.do(t, "POST", "/login", map[string]string{"username": "alice", "password": "wrong"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for bad password, got %d", w.Code)
	}

	cookie := e.login(t, "alice", "alice-pw")
	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	w = e.do(t, "GET", "/check-auth", nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("check-auth failed: %d %s", w.Code, w.Body.String())
	}
	user := decodeBody(t, w)["user"].(map[string]any)
	if user["username"] != "alice" || user["group"] != "Staff" {
		t.Errorf("unexpected user %v", user)
	}
	if _, leaked := user["passwordHash"]; leaked {
		t.Error("password hash must not be returned")
	}

	w = e.do(t, "POST", "/logout", nil, cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("logout failed: %d", w.Code)
	}
	w = e.do(t, "GET", "/check-auth", nil, cookie)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 after logout, got %d", w.Code)
	}
	w = e.do(t, "GET", "/api/files", nil, cookie)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for listing after logout, got %d", w.Code)
	}
}

func TestListingFiltersByGroup(t *testing.T) {
	e := newTestServer(t)

	// guest: private folder is pruned, photos is still listed
	w := e.do(t, "GET", "/api/files", nil, e.login(t, "guest", "guest-pw"))
	if w.Code != http.StatusOK {
		t.Fatalf("listing failed: %d %s", w.Code, w.Body.String())
	}
	nodes := decodeNodes(t, w)
	if len(nodes) != 2 || nodes[0]["name"] != "docs" || nodes[1]["name"] != "photos" {
		t.Fatalf("unexpected top level %v", nodes)
	}
	if got := childNames(findNode(nodes, "photos")); len(got) != 1 || got[0] != "beach.jpg" {
		t.Errorf("guest should only see beach.jpg, got %v", got)
	}

	// alice is in Staff
	w = e.do(t, "GET", "/api/files/photos", nil, e.login(t, "alice", "alice-pw"))
	nodes = decodeNodes(t, w)
	if len(nodes) != 2 || nodes[1]["name"] != "private" {
		t.Fatalf("alice should see private, got %v", nodes)
	}
	if got := childNames(nodes[1]); len(got) != 1 || got[0] != "secret.txt" {
		t.Errorf("expected secret.txt under private, got %v", got)
	}

	// admin sees everything through the Admin group
	w = e.do(t, "GET", "/api/files/photos/private", nil, e.login(t, "admin", "admin"))
	if w.Code != http.StatusOK {
		t.Fatalf("admin listing failed: %d", w.Code)
	}
	if nodes = decodeNodes(t, w); len(nodes) != 1 {
		t.Errorf("admin should see secret.txt, got %v", nodes)
	}
}

func TestHiddenPathsAnswerNotFound(t *testing.T) {
	e := newTestServer(t)
	guest := e.login(t, "guest", "guest-pw")

	for _, path := range []string{
		"/api/files/photos/private",
		"/data/photos/private/secret.txt",
		"/api/qr/photos/private",
		"/api/files/does-not-exist",
	} {
		w := e.do(t, "GET", path, nil, guest)
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s: expected 404, got %d", path, w.Code)
		}
	}

	w := e.do(t, "DELETE", "/api/files/photos/private", nil, guest)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 deleting hidden folder, got %d", w.Code)
	}
	if _, err := os.Stat(filepath.Join(e.dir, "photos", "private")); err != nil {
		t.Errorf("hidden folder must survive: %v", err)
	}
}

func TestInvalidPathIsRejected(t *testing.T) {
	e := newTestServer(t)
	w := e.do(t, "GET", "/api/files/../../etc", nil, e.login(t, "admin", "admin"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for escaping path, got %d", w.Code)
	}
	w = e.do(t, "GET", "/api/files/docs?depth=-1", nil, e.login(t, "admin", "admin"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for negative depth, got %d", w.Code)
	}
}

func TestListingDepthAndQR(t *testing.T) {
	e := newTestServer(t)
	w := e.do(t, "GET", "/api/files?depth=1&qr=true", nil, e.login(t, "admin", "admin"))
	if w.Code != http.StatusOK {
		t.Fatalf("listing failed: %d", w.Code)
	}
	nodes := decodeNodes(t, w)
	photos := findNode(nodes, "photos")
	if photos["truncated"] != true {
		t.Errorf("expected photos to be truncated at depth 1, got %v", photos)
	}
	if qr, _ := photos["qrCode"].(string); len(qr) < 30 || qr[:22] != "data:image/png;base64," {
		t.Errorf("expected a PNG data URL, got %.30q", qr)
	}
}

func TestDownload(t *testing.T) {
	e := newTestServer(t)
	w := e.do(t, "GET", "/data/docs/readme.txt?download=true", nil, e.login(t, "guest", "guest-pw"))
	if w.Code != http.StatusOK {
		t.Fatalf("download failed: %d %s", w.Code, w.Body.String())
	}
	if w.Body.String() != "read me" {
		t.Errorf("unexpected body %q", w.Body.String())
	}
	if cd := w.Header().Get("Content-Disposition"); cd != `attachment; filename=readme.txt` {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}

	w = e.do(t, "GET", "/data/docs", nil, e.login(t, "guest", "guest-pw"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 downloading a directory, got %d", w.Code)
	}
}

func TestCreateFolder(t *testing.T) {
	e := newTestServer(t)

	w := e.do(t, "POST", "/api/create-folder", map[string]any{
		"path": "docs", "name": "team", "groups": []string{"Sales"},
	}, e.login(t, "alice", "alice-pw"))
	if w.Code != http.StatusForbidden {
		t.Errorf("non-admin setting groups: expected 403, got %d", w.Code)
	}

	w = e.do(t, "POST", "/api/create-folder", map[string]any{"path": "docs", "name": "notes"}, e.login(t, "alice", "alice-pw"))
	if w.Code != http.StatusCreated {
		t.Fatalf("create-folder failed: %d %s", w.Code, w.Body.String())
	}

	admin := e.login(t, "admin", "admin")
	w = e.do(t, "POST", "/api/create-folder", map[string]any{
		"path": "docs", "name": "team", "groups": []string{"Sales"},
	}, admin)
	if w.Code != http.StatusCreated {
		t.Fatalf("admin create-folder failed: %d %s", w.Code, w.Body.String())
	}
	if g, _ := e.srv.perms.Snapshot().Lookup("docs/team"); !g.Equal(permission.GroupSet{"Sales"}) {
		t.Errorf("expected docs/team restricted to Sales, got %v", g)
	}

	w = e.do(t, "POST", "/api/create-folder", map[string]any{"path": "docs", "name": "team"}, admin)
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 for existing folder, got %d", w.Code)
	}

	// guest cannot see docs/team
	w = e.do(t, "GET", "/api/files/docs", nil, e.login(t, "guest", "guest-pw"))
	for _, n := range decodeNodes(t, w) {
		if n["name"] == "team" {
			t.Error("guest should not see docs/team")
		}
	}
}

func TestUpload(t *testing.T) {
	e := newTestServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("currentPath", "docs") //nolint:errcheck
	fw, _ := mw.CreateFormFile("file", "notes.txt")
	fw.Write([]byte("hello upload")) //nolint:errcheck
	mw.Close()

	req := httptest.NewRequest("POST", "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(e.login(t, "guest", "guest-pw"))
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload failed: %d %s", w.Code, w.Body.String())
	}

	data, err := os.ReadFile(filepath.Join(e.dir, "docs", "notes.txt"))
	if err != nil || string(data) != "hello upload" {
		t.Errorf("uploaded file mismatch: %q %v", data, err)
	}
	if g, ok := e.srv.perms.Snapshot().Lookup("docs/notes.txt"); !ok || !g.Equal(permission.GroupSet{"Default"}) {
		t.Errorf("expected Default entry for upload, got %v", g)
	}
}

// upload posts a single file into dir as the holder of cookie. Extra form
// fields are written before the file part.
func (e *testEnv) upload(t *testing.T, cookie *http.Cookie, dir, name, body string, fields ...[2]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range fields {
		mw.WriteField(f[0], f[1]) //nolint:errcheck
	}
	mw.WriteField("currentPath", dir) //nolint:errcheck
	fw, _ := mw.CreateFormFile("file", name)
	fw.Write([]byte(body)) //nolint:errcheck
	mw.Close()

	req := httptest.NewRequest("POST", "/api/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(cookie)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func TestUploadCannotReplaceHiddenFile(t *testing.T) {
	e := newTestServer(t)
	payroll := filepath.Join(e.dir, "docs", "payroll.txt")
	if err := os.WriteFile(payroll, []byte("salaries"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := e.srv.perms.Replace(context.Background(), "docs/payroll.txt", "Staff"); err != nil {
		t.Fatal(err)
	}

	w := e.upload(t, e.login(t, "guest", "guest-pw"), "docs", "payroll.txt", "overwritten by guest")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d %s", w.Code, w.Body.String())
	}
	if data, _ := os.ReadFile(payroll); string(data) != "salaries" {
		t.Errorf("hidden file was replaced: %q", data)
	}

	w = e.upload(t, e.login(t, "alice", "alice-pw"), "docs", "payroll.txt", "updated by staff")
	if w.Code != http.StatusCreated {
		t.Fatalf("staff upload failed: %d %s", w.Code, w.Body.String())
	}
	if g, _ := e.srv.perms.Snapshot().Lookup("docs/payroll.txt"); !g.Equal(permission.GroupSet{"Staff"}) {
		t.Errorf("replacing a file must keep its entry, got %v", g)
	}
}

// TestWritesRespectHiddenPaths runs each write against photos/private, which
// only Staff may see, as a user outside Staff, a Staff member and an admin.
func TestWritesRespectHiddenPaths(t *testing.T) {
	type write func(e *testEnv, c *http.Cookie) *httptest.ResponseRecorder
	cases := []struct {
		name  string
		do    write
		guest int
		staff int
		admin int
	}{
		{
			name: "upload into hidden folder",
			do: func(e *testEnv, c *http.Cookie) *httptest.ResponseRecorder {
				return e.upload(t, c, "photos/private", "new.txt", "data")
			},
			guest: http.StatusNotFound, staff: http.StatusCreated, admin: http.StatusCreated,
		},
		{
			name: "create folder with hidden name",
			do: func(e *testEnv, c *http.Cookie) *httptest.ResponseRecorder {
				return e.do(t, "POST", "/api/create-folder", map[string]any{"path": "photos", "name": "private"}, c)
			},
			guest: http.StatusNotFound, staff: http.StatusConflict, admin: http.StatusConflict,
		},
		{
			name: "create folder inside hidden folder",
			do: func(e *testEnv, c *http.Cookie) *httptest.ResponseRecorder {
				return e.do(t, "POST", "/api/create-folder", map[string]any{"path": "photos/private", "name": "sub"}, c)
			},
			guest: http.StatusNotFound, staff: http.StatusCreated, admin: http.StatusCreated,
		},
		{
			name: "rename onto hidden name",
			do: func(e *testEnv, c *http.Cookie) *httptest.ResponseRecorder {
				return e.do(t, "PUT", "/api/files/photos/beach.jpg", map[string]string{"newName": "private"}, c)
			},
			guest: http.StatusNotFound, staff: http.StatusConflict, admin: http.StatusConflict,
		},
		{
			name: "rename hidden folder",
			do: func(e *testEnv, c *http.Cookie) *httptest.ResponseRecorder {
				return e.do(t, "PUT", "/api/files/photos/private", map[string]string{"newName": "open"}, c)
			},
			guest: http.StatusNotFound, staff: http.StatusOK, admin: http.StatusOK,
		},
		{
			name: "delete hidden folder",
			do: func(e *testEnv, c *http.Cookie) *httptest.ResponseRecorder {
				return e.do(t, "DELETE", "/api/files/photos/private", nil, c)
			},
			guest: http.StatusNotFound, staff: http.StatusOK, admin: http.StatusOK,
		},
		{
			name: "delete folder holding hidden folder",
			do: func(e *testEnv, c *http.Cookie) *httptest.ResponseRecorder {
				return e.do(t, "DELETE", "/api/files/photos", nil, c)
			},
			guest: http.StatusForbidden, staff: http.StatusOK, admin: http.StatusOK,
		},
	}

	users := []struct {
		name, username, password string
		want                     func(i int) int
	}{
		{"guest", "guest", "guest-pw", func(i int) int { return cases[i].guest }},
		{"staff", "alice", "alice-pw", func(i int) int { return cases[i].staff }},
		{"admin", "admin", "admin", func(i int) int { return cases[i].admin }},
	}
	for i, tc := range cases {
		for _, u := range users {
			e := newTestServer(t)
			w := tc.do(e, e.login(t, u.username, u.password))
			if want := u.want(i); w.Code != want {
				t.Errorf("%s as %s: expected %d, got %d %s", tc.name, u.name, want, w.Code, w.Body.String())
			}
			if u.name == "guest" {
				if _, err := os.Stat(filepath.Join(e.dir, "photos", "private", "secret.txt")); err != nil {
					t.Errorf("%s as guest: hidden file must survive: %v", tc.name, err)
				}
			}
		}
	}
}

func TestUploadLimits(t *testing.T) {
	e := newTestServer(t)
	guest := e.login(t, "guest", "guest-pw")

	long := "docs/" + strings.Repeat("a", maxPathField)
	w := e.upload(t, guest, long, "x.txt", "data")
	if w.Code != http.StatusBadRequest {
		t.Errorf("overlong currentPath: expected 400, got %d", w.Code)
	}

	// The limit trips while skipping an unknown field, before any file part.
	e.srv.cfg.MaxUploadBytes = 512
	w = e.upload(t, guest, "docs", "x.txt", "data", [2]string{"note", strings.Repeat("n", 2048)})
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("body over limit: expected 413, got %d %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(e.dir, "docs", "x.txt")); !os.IsNotExist(err) {
		t.Errorf("rejected upload left a file behind: %v", err)
	}
}

func TestRenameAndDelete(t *testing.T) {
	e := newTestServer(t)
	alice := e.login(t, "alice", "alice-pw")

	w := e.do(t, "PUT", "/api/files/photos/private", map[string]string{"newName": "staff"}, alice)
	if w.Code != http.StatusOK {
		t.Fatalf("rename failed: %d %s", w.Code, w.Body.String())
	}
	snap := e.srv.perms.Snapshot()
	if g, _ := snap.Lookup("photos/staff"); !g.Equal(permission.GroupSet{"Staff"}) {
		t.Errorf("restriction should follow the rename, got %v", g)
	}
	if _, ok := snap.Lookup("photos/private/secret.txt"); ok {
		t.Error("old entries should be gone after rename")
	}

	w = e.do(t, "DELETE", "/api/files/photos/staff", nil, alice)
	if w.Code != http.StatusOK {
		t.Fatalf("delete failed: %d %s", w.Code, w.Body.String())
	}
	if _, ok := e.srv.perms.Snapshot().Lookup("photos/staff/secret.txt"); ok {
		t.Error("entries should be removed with the folder")
	}
	if _, err := os.Stat(filepath.Join(e.dir, "photos", "staff")); !os.IsNotExist(err) {
		t.Errorf("folder should be deleted, stat err = %v", err)
	}
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	e := newTestServer(t)
	alice := e.login(t, "alice", "alice-pw")
	for _, path := range []string{"/admin/users", "/admin/groups", "/admin/permissions", "/admin/audit-log"} {
		if w := e.do(t, "GET", path, nil, alice); w.Code != http.StatusForbidden {
			t.Errorf("GET %s as user: expected 403, got %d", path, w.Code)
		}
	}
	if w := e.do(t, "GET", "/admin/users", nil, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without session, got %d", w.Code)
	}
}

func TestPermissionGrantAndRevoke(t *testing.T) {
	e := newTestServer(t)
	admin := e.login(t, "admin", "admin")

	w := e.do(t, "DELETE", "/admin/permissions/docs?group=Default", nil, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("revoke failed: %d %s", w.Code, w.Body.String())
	}
	w = e.do(t, "PUT", "/admin/permissions/docs", map[string]any{"groups": []string{"Sales"}}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("grant failed: %d %s", w.Code, w.Body.String())
	}
	groups := decodeBody(t, w)["groups"].([]any)
	if len(groups) != 1 || groups[0] != "Sales" {
		t.Errorf("expected [Sales], got %v", groups)
	}

	if w := e.do(t, "GET", "/api/files/docs", nil, e.login(t, "guest", "guest-pw")); w.Code != http.StatusNotFound {
		t.Errorf("guest should lose docs, got %d", w.Code)
	}

	w = e.do(t, "PUT", "/admin/permissions/nowhere", map[string]any{"groups": []string{"Sales"}}, admin)
	if w.Code != http.StatusNotFound {
		t.Errorf("grant on missing path: expected 404, got %d", w.Code)
	}
	w = e.do(t, "DELETE", "/admin/permissions/docs", nil, admin)
	if w.Code != http.StatusBadRequest {
		t.Errorf("revoke without group: expected 400, got %d", w.Code)
	}
	w = e.do(t, "DELETE", "/admin/permissions/nowhere?group=Default", nil, admin)
	if w.Code != http.StatusNotFound {
		t.Errorf("revoke on missing path: expected 404, got %d", w.Code)
	}
	if _, ok := e.srv.perms.Snapshot().Lookup("nowhere"); ok {
		t.Error("revoke on a missing path must not record an entry")
	}

	// A recorded entry can still be revoked after its path is gone.
	if _, err := e.srv.perms.Grant(context.Background(), "gone", "Sales"); err != nil {
		t.Fatal(err)
	}
	w = e.do(t, "DELETE", "/admin/permissions/gone?group=Sales", nil, admin)
	if w.Code != http.StatusOK {
		t.Errorf("revoke on stale entry: expected 200, got %d %s", w.Code, w.Body.String())
	}

	w = e.do(t, "GET", "/admin/permissions", nil, admin)
	doc := decodeBody(t, w)
	if _, ok := doc["photos/private"]; !ok {
		t.Errorf("permission document missing photos/private: %v", doc)
	}
}

func TestReconcileEndpoint(t *testing.T) {
	e := newTestServer(t)
	if err := os.MkdirAll(filepath.Join(e.dir, "music", "live"), 0o755); err != nil {
		t.Fatal(err)
	}
	w := e.do(t, "POST", "/admin/reconcile", nil, e.login(t, "admin", "admin"))
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile failed: %d %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["added"] != float64(2) {
		t.Errorf("expected 2 added entries, got %v", body["added"])
	}
}

func TestUserAndGroupAdmin(t *testing.T) {
	e := newTestServer(t)
	admin := e.login(t, "admin", "admin")

	w := e.do(t, "POST", "/admin/users", map[string]string{
		"username": "bob", "password": "bob-pw", "group": "Nope",
	}, admin)
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown group: expected 400, got %d", w.Code)
	}
	w = e.do(t, "POST", "/admin/users", map[string]string{
		"username": "bob", "password": "bob-pw", "group": "Sales",
	}, admin)
	if w.Code != http.StatusCreated {
		t.Fatalf("create user failed: %d %s", w.Code, w.Body.String())
	}
	bob := e.login(t, "bob", "bob-pw")

	w = e.do(t, "PUT", "/admin/users/bob/group", map[string]string{"group": "Staff"}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("set group failed: %d", w.Code)
	}
	// group change applies to the existing session
	if w := e.do(t, "GET", "/api/files/photos/private", nil, bob); w.Code != http.StatusOK {
		t.Errorf("bob should now see private, got %d", w.Code)
	}

	w = e.do(t, "PUT", "/admin/users/bob", map[string]string{"newPassword": "changed"}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("update user failed: %d", w.Code)
	}
	if w := e.do(t, "GET", "/api/files", nil, bob); w.Code != http.StatusUnauthorized {
		t.Errorf("password change should end sessions, got %d", w.Code)
	}

	if w := e.do(t, "DELETE", "/admin/users/admin", nil, admin); w.Code != http.StatusBadRequest {
		t.Errorf("self delete: expected 400, got %d", w.Code)
	}
	if w := e.do(t, "DELETE", "/admin/users/bob", nil, admin); w.Code != http.StatusNoContent {
		t.Errorf("delete user: expected 204, got %d", w.Code)
	}

	if w := e.do(t, "POST", "/admin/groups", map[string]string{"name": "Guests"}, admin); w.Code != http.StatusCreated {
		t.Errorf("add group: expected 201, got %d", w.Code)
	}
	if w := e.do(t, "DELETE", "/admin/groups/Default", nil, admin); w.Code != http.StatusBadRequest {
		t.Errorf("delete reserved group: expected 400, got %d", w.Code)
	}
	w = e.do(t, "GET", "/admin/groups", nil, admin)
	groups := decodeBody(t, w)["groups"].([]any)
	if len(groups) != 5 {
		t.Errorf("expected Default, Admin, Staff, Sales, Guests; got %v", groups)
	}
}

func TestAuditLogRecordsUser(t *testing.T) {
	e := newTestServer(t)
	alice := e.login(t, "alice", "alice-pw")
	e.do(t, "GET", "/api/files/docs", nil, alice)

	w := e.do(t, "GET", "/admin/audit-log?username=alice", nil, e.login(t, "admin", "admin"))
	if w.Code != http.StatusOK {
		t.Fatalf("audit log failed: %d", w.Code)
	}
	entries := decodeBody(t, w)["data"].([]any)
	if len(entries) != 2 {
		t.Fatalf("expected login and listing for alice, got %d entries", len(entries))
	}
	latest := entries[0].(map[string]any)
	if latest["path"] != "/api/files/docs" || latest["responseCode"] != float64(200) {
		t.Errorf("unexpected latest entry %v", latest)
	}
}
