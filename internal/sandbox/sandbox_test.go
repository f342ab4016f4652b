package sandbox

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupdrive/internal/domain"
)

func newMemSandbox(t *testing.T, root string) *Sandbox {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(root, 0o755))
	sb, err := New(fs, root)
	require.NoError(t, err)
	return sb
}

func TestResolve(t *testing.T) {
	sb := newMemSandbox(t, "/srv/files")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"root", "", "/srv/files"},
		{"simple", "a/b.txt", "/srv/files/a/b.txt"},
		{"dot segments", "a/./b/../c.txt", "/srv/files/a/c.txt"},
		{"absolute looking", "/etc/passwd", "/srv/files/etc/passwd"},
		{"double slashes", "a//b", "/srv/files/a/b"},
		{"backslashes stripped", `..\..\etc`, "/srv/files/....etc"},
		{"forbidden chars stripped", `re<po>rt?.txt`, "/srv/files/report.txt"},
		{"dotdot back to root", "a/..", "/srv/files"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sb.Resolve(tt.in)
			require.NoError(t, err)
			assert.Equal(t, filepath.FromSlash(tt.want), got)
		})
	}
}

func TestResolveRejectsEscapes(t *testing.T) {
	sb := newMemSandbox(t, "/srv/files")

	for _, in := range []string{"..", "../x", "a/../../x", "a/b/../../../files2", "/../../etc/passwd", "./../files-other"} {
		t.Run(in, func(t *testing.T) {
			_, err := sb.Resolve(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrSandboxViolation))
			assert.Equal(t, domain.KindForbidden, domain.KindOf(err))
		})
	}
}

func TestResolveNeverEscapes(t *testing.T) {
	sb := newMemSandbox(t, "/srv/files")
	pieces := []string{"..", ".", "/", "a", `\`, "..\\", "//", "b/..", "files"}

	// все комбинации из трёх частей
	for _, p1 := range pieces {
		for _, p2 := range pieces {
			for _, p3 := range pieces {
				in := p1 + "/" + p2 + "/" + p3
				got, err := sb.Resolve(in)
				if err != nil {
					assert.ErrorIs(t, err, domain.ErrSandboxViolation, in)
					continue
				}
				assert.True(t, got == sb.Root() || strings.HasPrefix(got, sb.Root()+string(filepath.Separator)),
					"%q resolved outside root: %s", in, got)
			}
		}
	}
}

func TestRelativePath(t *testing.T) {
	sb := newMemSandbox(t, "/srv/files")

	rel, err := sb.RelativePath("/srv/files/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "a/b.txt", rel)

	rel, err = sb.RelativePath("/srv/files")
	require.NoError(t, err)
	assert.Equal(t, "", rel)

	_, err = sb.RelativePath("/srv/other")
	assert.ErrorIs(t, err, domain.ErrSandboxViolation)

	clean, err := sb.Clean("groups/./team/../team/docs")
	require.NoError(t, err)
	assert.Equal(t, "groups/team/docs", clean)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "report.txt", SanitizeName("rep|ort.txt"))
	assert.Equal(t, "ab", SanitizeName("a/b"))
	assert.Equal(t, "", SanitizeName(".."))
	assert.Equal(t, "", SanitizeName("  "))
	assert.Equal(t, "tab", SanitizeName("t\ta\x00b"))
}

func TestWriteNewDoesNotOverwrite(t *testing.T) {
	sb := newMemSandbox(t, "/srv/files")

	n, err := sb.WriteNew("a.txt", bytes.NewBufferString("first"))
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	_, err = sb.WriteNew("a.txt", bytes.NewBufferString("second"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrExist))

	data, err := afero.ReadFile(sb.Fs(), "/srv/files/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
}

func TestMoveBetweenSandboxes(t *testing.T) {
	fs := afero.NewMemMapFs()
	live, err := New(fs, "/srv/files")
	require.NoError(t, err)
	shadow, err := New(fs, "/srv/deleted")
	require.NoError(t, err)
	require.NoError(t, live.MkdirAll("a"))
	_, err = live.WriteNew("a/b.txt", bytes.NewBufferString("payload"))
	require.NoError(t, err)

	require.NoError(t, Move(live, "a/b.txt", shadow, "a/b_v1_1.txt"))

	ok, err := live.Exists("a/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)
	data, err := afero.ReadFile(fs, "/srv/deleted/a/b_v1_1.txt")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))

	_, err = shadow.WriteNew("a/taken.txt", bytes.NewBufferString("x"))
	require.NoError(t, err)
	_, err = live.WriteNew("c.txt", bytes.NewBufferString("y"))
	require.NoError(t, err)
	err = Move(live, "c.txt", shadow, "a/taken.txt")
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestMoveNeverReplacesExistingFile(t *testing.T) {
	fs := afero.NewOsFs()
	base := t.TempDir()
	live, err := New(fs, filepath.Join(base, "files"))
	require.NoError(t, err)
	shadow, err := New(fs, filepath.Join(base, "deleted"))
	require.NoError(t, err)
	require.NoError(t, fs.MkdirAll(filepath.Join(base, "files"), 0o755))
	require.NoError(t, fs.MkdirAll(filepath.Join(base, "deleted"), 0o755))

	_, err = live.WriteNew("report.txt", bytes.NewBufferString("current"))
	require.NoError(t, err)
	_, err = shadow.WriteNew("report_v1_1.txt", bytes.NewBufferString("deleted"))
	require.NoError(t, err)

	err = Move(shadow, "report_v1_1.txt", live, "report.txt")
	require.ErrorIs(t, err, domain.ErrConflict)

	data, err := afero.ReadFile(fs, filepath.Join(base, "files", "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "current", string(data))
	data, err = afero.ReadFile(fs, filepath.Join(base, "deleted", "report_v1_1.txt"))
	require.NoError(t, err)
	assert.Equal(t, "deleted", string(data))
}

func TestMoveMissingSourceLeavesNoPlaceholder(t *testing.T) {
	fs := afero.NewMemMapFs()
	live, err := New(fs, "/srv/files")
	require.NoError(t, err)
	shadow, err := New(fs, "/srv/deleted")
	require.NoError(t, err)

	err = Move(live, "gone.txt", shadow, "x/gone_v1_1.txt")
	require.ErrorIs(t, err, os.ErrNotExist)
	ok, err := shadow.Exists("x/gone_v1_1.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParentAndJoin(t *testing.T) {
	assert.Equal(t, "", Parent("b.txt"))
	assert.Equal(t, "a", Parent("a/b.txt"))
	assert.Equal(t, "a/b", Parent("a/b/c"))
	assert.Equal(t, "x", Join("", "x"))
	assert.Equal(t, "a/x", Join("a", "x"))
}
