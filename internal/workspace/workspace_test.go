package workspace

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	dir := t.TempDir()
	ws, err := New(dir, nil)
	require.NoError(t, err)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"relative", "src/main.go", "src/main.go", false},
		{"absolute inside root", filepath.Join(dir, "src", "main.go"), "src/main.go", false},
		{"cleans dot segments", "src/./sub/../main.go", "src/main.go", false},
		{"rejects escape", "../outside.go", "", true},
		{"rejects root itself", ".", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ws.Normalize(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFingerprintStable(t *testing.T) {
	dir := t.TempDir()
	a, err := New(dir, nil)
	require.NoError(t, err)
	b, err := New(dir, nil)
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.Len(t, a.Fingerprint(), 16)

	other, err := New(t.TempDir(), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), other.Fingerprint())
}

func TestIsSensitive(t *testing.T) {
	ws, err := New(t.TempDir(), []string{"**/deploy.yaml"})
	require.NoError(t, err)

	sensitive := []string{
		".env",
		"config/.env.production",
		"certs/server.pem",
		"keys/id_rsa",
		"aws_credentials.json",
		"secrets/token.txt",
		"ops/deploy.yaml",
	}
	for _, p := range sensitive {
		assert.True(t, ws.IsSensitive(p), p)
	}

	benign := []string{
		"main.go",
		"docs/environment.md",
		"src/envparse.go",
	}
	for _, p := range benign {
		assert.False(t, ws.IsSensitive(p), p)
	}
}

func TestHashContent(t *testing.T) {
	a := HashContent([]byte("hello"))
	assert.Equal(t, a, HashContent([]byte("hello")))
	assert.NotEqual(t, a, HashContent([]byte("world")))
	assert.Len(t, a, 16)
}
