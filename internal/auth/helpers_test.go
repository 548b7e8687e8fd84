package auth

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/blogme/internal/jobs"
	"github.com/yourusername/blogme/internal/storage"
	"github.com/yourusername/blogme/internal/users"
	"github.com/yourusername/blogme/internal/web"
)

var csrfPattern = regexp.MustCompile(`name="csrf_token" value="([0-9a-f]+)"`)

type testApp struct {
	manager *Manager
	db      *sql.DB
	store   *users.SQLStore
	server  *httptest.Server
}

type recordingEvents struct {
	mu     sync.Mutex
	events []jobs.Event
}

func (r *recordingEvents) Record(_ context.Context, event jobs.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingEvents) kinds() []jobs.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]jobs.EventKind, len(r.events))
	for i, e := range r.events {
		kinds[i] = e.Kind
	}
	return kinds
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSQLiteUsers(t *testing.T) (*sql.DB, *users.SQLStore) {
	t.Helper()
	ctx := context.Background()
	db, err := storage.Open(ctx, storage.DialectSQLite, "file::memory:")
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := storage.Migrate(ctx, db, storage.DialectSQLite, nil); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db, users.NewSQLStore(db, storage.DialectSQLite)
}

// newTestApp は SQLite(in-memory) と Cookie セッションで動くアプリを起動します。
func newTestApp(t *testing.T, configure func(*Options)) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, store := newSQLiteUsers(t)
	opts := Options{
		Users:          store,
		Hasher:         BcryptHasher{Cost: bcrypt.MinCost},
		Logger:         discardLogger(),
		CSRFProtection: true,
	}
	if configure != nil {
		configure(&opts)
	}
	manager, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}

	router := newTestRouter(t, manager)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testApp{manager: manager, db: db, store: store, server: server}
}

func newTestRouter(t *testing.T, manager *Manager) *gin.Engine {
	t.Helper()
	tmpl, err := web.Templates()
	if err != nil {
		t.Fatalf("failed to parse templates: %v", err)
	}

	router := gin.New()
	router.SetHTMLTemplate(tmpl)
	// 既定の Options は Secure; SameSite=None のため、平文 http の httptest では Cookie が送られない
	store := cookie.NewStore([]byte("test-session-secret-0123456789abcdef"))
	store.Options(sessions.Options{
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	router.Use(sessions.Sessions(SessionCookieName, store))
	manager.Mount(router)

	// 現在のリクエストで読み込まれたユーザーを返す
	router.GET("/whoami", func(c *gin.Context) {
		if u := CurrentUser(c); u != nil {
			c.String(http.StatusOK, strconv.FormatInt(u.ID, 10))
			return
		}
		c.String(http.StatusOK, "anonymous")
	})
	return router
}

type testClient struct {
	t    *testing.T
	base string
	http *http.Client
}

func (a *testApp) newClient(t *testing.T) *testClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("failed to create cookie jar: %v", err)
	}
	return &testClient{
		t:    t,
		base: a.server.URL,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (c *testClient) get(path string) (*http.Response, string) {
	c.t.Helper()
	resp, err := c.http.Get(c.base + path)
	if err != nil {
		c.t.Fatalf("GET %s failed: %v", path, err)
	}
	return resp, readBody(c.t, resp)
}

// submit はフォームを GET して CSRF トークンを取得してから POST します。
func (c *testClient) submit(path string, form url.Values) (*http.Response, string) {
	c.t.Helper()
	_, page := c.get(path)
	m := csrfPattern.FindStringSubmatch(page)
	if m == nil {
		c.t.Fatalf("csrf token not found on %s:\n%s", path, page)
	}
	form.Set("csrf_token", m[1])
	return c.post(path, form)
}

func (c *testClient) post(path string, form url.Values) (*http.Response, string) {
	c.t.Helper()
	resp, err := c.http.PostForm(c.base+path, form)
	if err != nil {
		c.t.Fatalf("POST %s failed: %v", path, err)
	}
	return resp, readBody(c.t, resp)
}

func (c *testClient) whoami() string {
	c.t.Helper()
	_, body := c.get("/whoami")
	return strings.TrimSpace(body)
}

func (c *testClient) register(username, password string) (*http.Response, string) {
	c.t.Helper()
	return c.submit(RegisterPath, url.Values{"username": {username}, "password": {password}})
}

func (c *testClient) login(username, password string) (*http.Response, string) {
	c.t.Helper()
	return c.submit(LoginPath, url.Values{"username": {username}, "password": {password}})
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	return string(b)
}

func countUsers(t *testing.T, db *sql.DB, username string) int {
	t.Helper()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "user" WHERE username = ?`, username).Scan(&n); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	return n
}
