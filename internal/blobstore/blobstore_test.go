package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/convoetl/internal/config"
)

// memContainer is an in-memory Container with injectable faults.
type memContainer struct {
	objects map[string][]byte
	created map[string]time.Time

	listErr error
	openErr error
	// failAfter truncates the download stream with readErr after n bytes.
	failAfter int
	readErr   error
}

func newMemContainer() *memContainer {
	return &memContainer{objects: map[string][]byte{}, created: map[string]time.Time{}, failAfter: -1}
}

func (m *memContainer) put(name string, created time.Time, data string) {
	m.objects[name] = []byte(data)
	m.created[name] = created
}

func (m *memContainer) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []ObjectInfo
	for name, data := range m.objects {
		if strings.HasPrefix(name, prefix) {
			out = append(out, ObjectInfo{Name: name, Created: m.created[name], Size: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memContainer) Open(_ context.Context, name string) (io.ReadCloser, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	data, ok := m.objects[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}
	if m.failAfter >= 0 {
		return io.NopCloser(io.MultiReader(bytes.NewReader(data[:m.failAfter]), errReader{m.readErr})), nil
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memContainer) Upload(_ context.Context, name string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.put(name, time.Now(), string(data))
	return nil
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func stagingEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

// ParseContainerURL

func TestParseContainerURL(t *testing.T) {
	tests := []struct {
		raw  string
		want ContainerRef
	}{
		{
			raw:  "https://acct.example/mycontainer?sig=abc",
			want: ContainerRef{Endpoint: "https://acct.example", Container: "mycontainer", Credential: "sig=abc"},
		},
		{
			raw:  "https://acct.blob.core.windows.net/backups/",
			want: ContainerRef{Endpoint: "https://acct.blob.core.windows.net", Container: "backups"},
		},
		{
			raw:  "http://127.0.0.1:10000/devstore?sv=2024&sig=x%2Fy",
			want: ContainerRef{Endpoint: "http://127.0.0.1:10000", Container: "devstore", Credential: "sv=2024&sig=x%2Fy"},
		},
		{
			raw:  "file:///var/backups",
			want: ContainerRef{Endpoint: "file://", Container: "/var/backups"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseContainerURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseContainerURL_Invalid(t *testing.T) {
	for _, raw := range []string{"", "ftp://host/c", "https:///c", "https://acct.example", "https://acct.example/", "file://"} {
		t.Run(raw, func(t *testing.T) {
			_, err := ParseContainerURL(raw)
			var cfgErr *config.ConfigError
			assert.True(t, errors.As(err, &cfgErr), "ParseContainerURL(%q) error = %v, want *config.ConfigError", raw, err)
		})
	}
}

func TestContainerRef_StringOmitsCredential(t *testing.T) {
	ref, err := ParseContainerURL("https://acct.example/mycontainer?sig=secret")
	require.NoError(t, err)
	assert.Equal(t, "https://acct.example/mycontainer", ref.String())
	assert.NotContains(t, ref.String(), "secret")
}

func TestConnect_CredentialRequired(t *testing.T) {
	ref := ContainerRef{Endpoint: "https://acct.example", Container: "mycontainer"}

	_, err := Connect(ref, "")
	var cfgErr *config.ConfigError
	require.True(t, errors.As(err, &cfgErr), "Connect() error = %v", err)
	assert.Equal(t, "storage.sas_token", cfgErr.Field)

	c, err := Connect(ref, "?sig=fallback")
	require.NoError(t, err)
	az, ok := c.(*AzureContainer)
	require.True(t, ok, "Connect() = %T, want *AzureContainer", c)
	assert.Equal(t, "sig=fallback", az.ref.Credential)
}

func TestConnect_EmbeddedCredentialWins(t *testing.T) {
	ref, err := ParseContainerURL("https://acct.example/mycontainer?sig=abc")
	require.NoError(t, err)

	c, err := Connect(ref, "sig=other")
	require.NoError(t, err)
	assert.Equal(t, "sig=abc", c.(*AzureContainer).ref.Credential)
}

func TestConnect_LocalDirectory(t *testing.T) {
	dir := t.TempDir()
	ref, err := ParseContainerURL("file://" + dir)
	require.NoError(t, err)

	c, err := Connect(ref, "")
	require.NoError(t, err)
	assert.IsType(t, &DirContainer{}, c)
}

// FindLatest

func TestFindLatest_NewestCreationTime(t *testing.T) {
	c := newMemContainer()
	c.put("backup_20240101T000000", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), "{}")
	c.put("backup_20240102T000000", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), "{}")
	c.put("other_20250101T000000", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "{}")

	for i := 0; i < 10; i++ {
		got, err := FindLatest(context.Background(), c, "backup_")
		require.NoError(t, err)
		assert.Equal(t, "backup_20240102T000000", got.Name)
	}
}

func TestFindLatest_TieBreakByName(t *testing.T) {
	same := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := newMemContainer()
	c.put("backup_a", same, "{}")
	c.put("backup_c", same, "{}")
	c.put("backup_b", same, "{}")

	got, err := FindLatest(context.Background(), c, "backup_")
	require.NoError(t, err)
	assert.Equal(t, "backup_c", got.Name)
}

func TestFindLatest_NoMatch(t *testing.T) {
	c := newMemContainer()
	c.put("other_1", time.Now(), "{}")

	_, err := FindLatest(context.Background(), c, "backup_")
	var nfe *NotFoundError
	require.True(t, errors.As(err, &nfe), "FindLatest() error = %v", err)
	assert.Equal(t, "backup_", nfe.Prefix)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsTransient(err))
}

func TestFindLatest_ListFailure(t *testing.T) {
	c := newMemContainer()
	c.listErr = &TransientFetchError{Op: "list", Err: errors.New("connection reset")}

	_, err := FindLatest(context.Background(), c, "backup_")
	assert.True(t, IsTransient(err))
}

// Fetch

func TestFetch_StagesFullContent(t *testing.T) {
	dir := t.TempDir()
	c := newMemContainer()
	c.put("backup_1", time.Now(), `{"sessions":[]}`)

	staged, err := Fetch(context.Background(), c, "backup_1", dir)
	require.NoError(t, err)

	data, err := os.ReadFile(staged.Path())
	require.NoError(t, err)
	assert.Equal(t, `{"sessions":[]}`, string(data))
	assert.Equal(t, "backup_1", staged.Name())
	assert.Equal(t, int64(len(data)), staged.Size())
	assert.Equal(t, dir, filepath.Dir(staged.Path()))

	require.NoError(t, staged.Release())
	assert.Empty(t, stagingEntries(t, dir))
	assert.NoError(t, staged.Release(), "second Release must be a no-op")
}

func TestFetch_InterruptedStreamLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	c := newMemContainer()
	c.put("backup_1", time.Now(), `{"sessions":[],"events":[]}`)
	c.failAfter = 5
	c.readErr = errors.New("connection reset by peer")

	staged, err := Fetch(context.Background(), c, "backup_1", dir)
	assert.Nil(t, staged)

	var tfe *TransientFetchError
	require.True(t, errors.As(err, &tfe), "Fetch() error = %v", err)
	assert.Equal(t, "download", tfe.Op)
	assert.Equal(t, "backup_1", tfe.Name)
	assert.Empty(t, stagingEntries(t, dir), "partial staging file left behind")
}

func TestFetch_OpenFailure(t *testing.T) {
	dir := t.TempDir()
	c := newMemContainer()
	c.put("backup_1", time.Now(), "{}")
	c.openErr = &TransientFetchError{Op: "download", Name: "backup_1", Err: errors.New("503")}

	_, err := Fetch(context.Background(), c, "backup_1", dir)
	assert.True(t, IsTransient(err))
	assert.Empty(t, stagingEntries(t, dir))
}

func TestFetch_MissingObject(t *testing.T) {
	dir := t.TempDir()
	_, err := Fetch(context.Background(), newMemContainer(), "backup_gone", dir)
	assert.True(t, IsNotFound(err))
	assert.Empty(t, stagingEntries(t, dir))
}

// DirContainer

func TestDirContainer_ListOpenUpload(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	c, err := NewDirContainer(root)
	require.NoError(t, err)

	require.NoError(t, c.Upload(ctx, "backup_1.json", strings.NewReader("one")))
	require.NoError(t, c.Upload(ctx, "backup_2.json", strings.NewReader("two")))
	require.NoError(t, c.Upload(ctx, "notes.txt", strings.NewReader("x")))
	require.NoError(t, os.Mkdir(filepath.Join(root, "backup_dir"), 0o755))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(root, "backup_1.json"), old, old))

	objects, err := c.List(ctx, "backup_")
	require.NoError(t, err)
	require.Len(t, objects, 2)

	latest, err := FindLatest(ctx, c, "backup_")
	require.NoError(t, err)
	assert.Equal(t, "backup_2.json", latest.Name)
	assert.Equal(t, int64(3), latest.Size)

	rc, err := c.Open(ctx, "backup_1.json")
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	// Uploads leave no temporary files behind.
	assert.ElementsMatch(t, []string{"backup_1.json", "backup_2.json", "notes.txt", "backup_dir"}, stagingEntries(t, root))
}

func TestDirContainer_RejectsEscapingNames(t *testing.T) {
	c, err := NewDirContainer(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"", "..", "../etc/passwd", "a/b"} {
		_, err := c.Open(context.Background(), name)
		assert.Error(t, err, "Open(%q)", name)
		assert.False(t, IsNotFound(err), "Open(%q)", name)
	}
}

func TestDirContainer_OpenMissing(t *testing.T) {
	c, err := NewDirContainer(t.TempDir())
	require.NoError(t, err)

	_, err = c.Open(context.Background(), "backup_9")
	assert.True(t, IsNotFound(err))
}

func TestNewDirContainer_NotADirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := NewDirContainer(path)
	assert.Error(t, err)

	_, err = NewDirContainer(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, `no snapshot matches prefix "backup_"`, (&NotFoundError{Prefix: "backup_"}).Error())
	assert.Equal(t, `snapshot "b1" not found`, (&NotFoundError{Name: "b1"}).Error())

	cause := errors.New("reset")
	err := &TransientFetchError{Op: "download", Name: "b1", Err: cause}
	assert.Equal(t, "download b1 failed: reset", err.Error())
	assert.ErrorIs(t, err, cause)
}
