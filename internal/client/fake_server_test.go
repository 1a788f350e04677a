package client

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/wolfeidau/peerhub/internal/models"
)

// fakeAPI is a scripted server that records every call it sees.
type fakeAPI struct {
	mu sync.Mutex

	user models.User

	// valid is the set of tokens the server currently accepts.
	valid map[string]bool
	// rotateTo, when set, is handed out by the profile endpoint.
	rotateTo string
	// stale tokens are still accepted by the profile endpoint but not by /target.
	stale map[string]bool
	// targetAlways401 forces /target to reject every call.
	targetAlways401 bool
	// profileBody overrides the profile response body.
	profileBody string

	calls        map[string]int
	targetAuth   []string
	targetBodies []string
	targetCTypes []string
}

func newFakeAPI(t *testing.T) (*fakeAPI, *httptest.Server) {
	t.Helper()

	f := &fakeAPI{
		user:  models.User{ID: uuid.Must(uuid.NewV7()), FullName: "Grace Hopper", Email: "grace@example.com"},
		valid: map[string]bool{},
		stale: map[string]bool{},
		calls: map[string]int{},
	}

	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)

	return f, srv
}

func (f *fakeAPI) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func (f *fakeAPI) accept(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.valid[token] = true
}

func (f *fakeAPI) revoke(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.valid, token)
}

func (f *fakeAPI) token(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[r.URL.Path]++

	switch r.URL.Path {
	case "/api/auth/login", "/api/auth/register":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "cobol-rules" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid email or password"})
			return
		}
		token := "login-token"
		f.valid[token] = true
		http.SetCookie(w, &http.Cookie{Name: "token", Value: token, Path: "/", HttpOnly: true})
		writeJSON(w, http.StatusOK, map[string]any{"user": f.user, "token": token})

	case "/api/auth/logout":
		http.SetCookie(w, &http.Cookie{Name: "token", Value: "", Path: "/", MaxAge: -1})
		writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})

	case "/api/users/profile":
		if !f.valid[f.token(r)] {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Token invalid or expired"})
			return
		}
		if f.profileBody != "" {
			w.Header().Set("Content-Type", "application/json")
			_, _ = io.WriteString(w, f.profileBody)
			return
		}
		resp := map[string]any{"_id": f.user.ID, "fullName": f.user.FullName, "email": f.user.Email}
		if f.rotateTo != "" {
			f.valid[f.rotateTo] = true
			resp["token"] = f.rotateTo
		}
		writeJSON(w, http.StatusOK, resp)

	case "/api/target":
		body, _ := io.ReadAll(r.Body)
		f.targetAuth = append(f.targetAuth, r.Header.Get("Authorization"))
		f.targetBodies = append(f.targetBodies, string(body))
		f.targetCTypes = append(f.targetCTypes, r.Header.Get("Content-Type"))

		token := f.token(r)
		if f.targetAlways401 || f.stale[token] || !f.valid[token] {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Token invalid or expired"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"ok": "yes"})

	default:
		http.NotFound(w, r)
	}
}

func newCacheableServer(t *testing.T, hits interface{ Add(int32) int32 }) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Cache-Control", "max-age=60")
		writeJSON(w, http.StatusOK, map[string]string{"hello": "world"})
	}))
	t.Cleanup(srv.Close)

	return srv
}
