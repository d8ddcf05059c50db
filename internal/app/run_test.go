package app

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
)

func TestRun_ServeCommand_FailsWithoutDatabase(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"serve"})
	if err == nil {
		t.Fatal("Run(serve) should fail when the database is unreachable")
	}
	if !strings.Contains(err.Error(), "database") {
		t.Errorf("error = %v, want database error", err)
	}
}

func TestRun_WorkerCommand_FailsWithoutDatabase(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	if err := Run(&buf, []string{"worker"}); err == nil {
		t.Fatal("Run(worker) should fail when the database is unreachable")
	}
}

func TestRun_DefaultCommand_IsServe(t *testing.T) {
	setTestEnv(t)

	var buf bytes.Buffer
	if err := Run(&buf, []string{}); err == nil {
		t.Fatal("Run([]) should fail when the database is unreachable")
	}
	if !strings.Contains(buf.String(), `"command":"serve"`) {
		t.Errorf("log should record the serve command: %s", buf.String())
	}
}

func TestRun_WithMissingEnv_ReturnsError(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("IDENTITY_PROVIDER", "local")
	t.Setenv("LOCAL_JWT_SECRET", "")

	var buf bytes.Buffer
	if err := Run(&buf, []string{"serve"}); err == nil {
		t.Fatal("Run with missing env should return error")
	}
}

func TestRun_Healthcheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	port := server.URL[strings.LastIndex(server.URL, ":")+1:]
	t.Setenv("SERVER_PORT", port)

	var buf bytes.Buffer
	if err := Run(&buf, []string{"healthcheck"}); err != nil {
		t.Fatalf("Run(healthcheck) error = %v", err)
	}
}

// TestRun_ClientLoginAndStatus はclientサブコマンドがSQLiteストアにセッションを保存することを検証する。
func TestRun_ClientLoginAndStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			w.Write([]byte(`{"message":"Login successful",
				"user":{"id":"auth-1","email":"a@x.com","user_metadata":{},"created_at":"2026-01-01T00:00:00Z","dbUser":null},
				"session":{"access_token":"at-1","refresh_token":"rt-1","token_type":"bearer","expires_in":3600}}`))
		case "/auth/logout":
			w.Write([]byte(`{"message":"Logout successful"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	t.Setenv("API_BASE_URL", server.URL)
	t.Setenv("SESSION_STORE_PATH", filepath.Join(t.TempDir(), "session.db"))

	var buf bytes.Buffer
	if err := Run(&buf, []string{"client", "login", "--email", "a@x.com", "--password", "secret1"}); err != nil {
		t.Fatalf("client login error = %v", err)
	}
	if !strings.Contains(buf.String(), "Login successful") {
		t.Errorf("login output = %s", buf.String())
	}

	status := func() map[string]any {
		t.Helper()
		buf.Reset()
		if err := Run(&buf, []string{"client", "status"}); err != nil {
			t.Fatalf("client status error = %v", err)
		}
		var out map[string]any
		if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
			t.Fatalf("status output is not JSON: %v\n%s", err, buf.String())
		}
		return out
	}

	if out := status(); out["authenticated"] != true {
		t.Errorf("status after login = %v", out)
	}

	buf.Reset()
	if err := Run(&buf, []string{"client", "logout"}); err != nil {
		t.Fatalf("client logout error = %v", err)
	}

	if out := status(); out["authenticated"] != false || out["user"] != nil {
		t.Errorf("status after logout = %v", out)
	}
}

func TestRun_ClientWhoami_NoToken(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://127.0.0.1:1")
	t.Setenv("SESSION_STORE_PATH", filepath.Join(t.TempDir(), "session.db"))

	var buf bytes.Buffer
	err := Run(&buf, []string{"client", "whoami"})
	if err == nil || !strings.Contains(err.Error(), "No token found") {
		t.Errorf("client whoami error = %v, want No token found", err)
	}
}
