package testenv

import (
	"os"
	"strings"
	"testing"
)

const (
	// EnvWSURL names the SurrealDB endpoint for integration tests. Tests
	// that need a server are skipped when it is unset.
	EnvWSURL = "SURREALDB_URL"

	EnvUser = "SURREALDB_USER"
	EnvPass = "SURREALDB_PASS"
)

// SurrealDBEndpoint describes the server integration tests talk to.
type SurrealDBEndpoint struct {
	URL       string
	Namespace string
	Database  string
	Username  string
	Password  string
}

// SurrealDB returns the endpoint from the environment and skips t when no
// server is configured. Each caller gets its own database, named after the
// test, so runs do not see each other's records.
func SurrealDB(t testing.TB) SurrealDBEndpoint {
	t.Helper()

	u := os.Getenv(EnvWSURL)
	if u == "" {
		t.Skipf("%s not set; skipping SurrealDB integration test", EnvWSURL)
	}
	// The RPC endpoint is websocket only.
	u = strings.Replace(u, "http", "ws", 1)

	return SurrealDBEndpoint{
		URL:       u,
		Namespace: "notesync_test",
		Database:  sanitize(t.Name()),
		Username:  getEnvOrDefault(EnvUser, "root"),
		Password:  getEnvOrDefault(EnvPass, "root"),
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func sanitize(name string) string {
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteRune('_')
		}
	}
	return sb.String()
}
