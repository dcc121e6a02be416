package ignore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRulesIgnoreNothing(t *testing.T) {
	var r *Rules
	assert.False(t, r.Ignored("any/file.txt", false))
	assert.Equal(t, 0, r.Len())
}

func TestEmptyRulesIgnoreNothing(t *testing.T) {
	r := New()
	assert.False(t, r.Ignored("any/file.txt", false))
	assert.False(t, r.Ignored("any/dir", true))
}

func TestExcludeBasename(t *testing.T) {
	r := New()
	require.NoError(t, r.Exclude("*.log"))

	assert.True(t, r.Ignored("app.log", false))
	assert.True(t, r.Ignored("sub/deep/debug.log", false))
	assert.False(t, r.Ignored("app.log.bak", false))
	assert.False(t, r.Ignored("app.txt", false))
}

func TestFirstMatchWins(t *testing.T) {
	t.Run("include first", func(t *testing.T) {
		r := New()
		require.NoError(t, r.Include("important.log"))
		require.NoError(t, r.Exclude("*.log"))

		assert.False(t, r.Ignored("important.log", false))
		assert.True(t, r.Ignored("debug.log", false))
	})

	t.Run("exclude first", func(t *testing.T) {
		r := New()
		require.NoError(t, r.Exclude("*.log"))
		require.NoError(t, r.Include("important.log"))

		assert.True(t, r.Ignored("important.log", false))
	})
}

func TestDirOnly(t *testing.T) {
	r := New()
	require.NoError(t, r.Exclude("build/"))

	assert.True(t, r.Ignored("build", true))
	assert.True(t, r.Ignored("sub/build", true))
	assert.False(t, r.Ignored("build", false))
}

func TestAnchored(t *testing.T) {
	r := New()
	require.NoError(t, r.Exclude("/root.txt"))

	assert.True(t, r.Ignored("root.txt", false))
	assert.False(t, r.Ignored("sub/root.txt", false))
}

func TestInnerSlashAnchors(t *testing.T) {
	r := New()
	require.NoError(t, r.Exclude("photos/raw"))

	assert.True(t, r.Ignored("photos/raw", true))
	assert.False(t, r.Ignored("archive/photos/raw", true))
}

func TestDoubleStar(t *testing.T) {
	r := New()
	require.NoError(t, r.Exclude("**/node_modules/**"))

	assert.True(t, r.Ignored("web/node_modules/left-pad/index.js", false))
	assert.True(t, r.Ignored("node_modules/x", false))
	assert.False(t, r.Ignored("web/src/index.js", false))
}

func TestCharacterClass(t *testing.T) {
	r := New()
	require.NoError(t, r.Exclude("*.[oa]"))

	assert.True(t, r.Ignored("lib/x.o", false))
	assert.True(t, r.Ignored("lib/x.a", false))
	assert.False(t, r.Ignored("lib/x.c", false))
}

func TestInvalidPattern(t *testing.T) {
	r := New()
	require.Error(t, r.Exclude("[unclosed"))
	require.Error(t, r.Exclude("/"))
	assert.Equal(t, 0, r.Len())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFileName)
	content := `# caches
+ keep.tmp
- *.tmp

.cache/
noprefix.txt
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	r := New()
	require.NoError(t, r.Load(path))

	require.Len(t, r.rules, 4)
	assert.True(t, r.rules[0].include)
	assert.False(t, r.rules[1].include)
	assert.True(t, r.rules[2].dirOnly)

	assert.False(t, r.Ignored("keep.tmp", false))
	assert.True(t, r.Ignored("x/y.tmp", false))
	assert.True(t, r.Ignored("home/.cache", true))
	assert.True(t, r.Ignored("noprefix.txt", false))
	assert.False(t, r.Ignored("notes.md", false))
}

func TestLoad_BadLineReportsLineNumber(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules")
	require.NoError(t, os.WriteFile(path, []byte("*.log\n- [bad\n"), 0o644))

	err := New().Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestLoadIfExists(t *testing.T) {
	dir := t.TempDir()

	r := New()
	found, err := r.LoadIfExists(filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, found)

	path := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(path, []byte("*.bak\n"), 0o644))
	found, err = r.LoadIfExists(path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 1, r.Len())
}
