package publish

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/blockagg/internal/domain"
)

func TestSort_StrictAscendingByteOrder(t *testing.T) {
	got := Sort(domain.NewEntrySet("b.com", "a.com", "c.com", "B.com", "a.co", "ä.com"))
	want := []domain.Entry{"B.com", "a.co", "a.com", "b.com", "c.com", "ä.com"}
	require.Equal(t, want, got)

	for i := 1; i < len(got); i++ {
		require.Less(t, string(got[i-1]), string(got[i]))
	}
}

func TestSort_TwoSourcesExample(t *testing.T) {
	merged := domain.NewEntrySet()
	merged.Merge(domain.NewEntrySet("a.com", "c.com"))
	merged.Merge(domain.NewEntrySet("b.com", "a.com"))

	assert.Equal(t, []domain.Entry{"a.com", "b.com", "c.com"}, Sort(merged))
}

func TestEncode(t *testing.T) {
	assert.Equal(t, "a.com\nb.com\n", string(Encode([]domain.Entry{"a.com", "b.com"})))
	assert.Empty(t, Encode(nil))
}

func TestPublish_WritesOutputWithoutRelocation(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "ads_list.txt")

	art, err := Publish([]domain.Entry{"a.com", "b.com"}, Target{Output: out}, nil)
	require.NoError(t, err)
	assert.Equal(t, out, art.Path)
	assert.Equal(t, "", art.Published)
	assert.Equal(t, 2, art.Entries)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "a.com\nb.com\n", string(b))
}

func TestPublish_EmptySetWritesZeroLineArtifact(t *testing.T) {
	out := filepath.Join(t.TempDir(), "ads_list.txt")

	art, err := Publish(nil, Target{Output: out}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, art.Entries)

	fi, err := os.Stat(out)
	require.NoError(t, err)
	assert.Equal(t, int64(0), fi.Size())
}

func TestPublish_RelocatesOnSupportedPlatform(t *testing.T) {
	withRelocate(t, true)
	root := t.TempDir()
	out := filepath.Join(root, "work", "ads_list.txt")
	pub := filepath.Join(root, "var", "www", "html")

	art, err := Publish([]domain.Entry{"x.com"}, Target{Output: out, PublishDir: pub}, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(pub, "ads_list.txt"), art.Path)
	assert.Equal(t, art.Path, art.Published)

	_, err = os.Stat(out)
	assert.True(t, os.IsNotExist(err), "源产物应被移动")
	b, err := os.ReadFile(art.Path)
	require.NoError(t, err)
	assert.Equal(t, "x.com\n", string(b))
}

func TestPublish_SkipsRelocationOnUnsupportedPlatform(t *testing.T) {
	withRelocate(t, false)
	root := t.TempDir()
	out := filepath.Join(root, "ads_list.txt")
	pub := filepath.Join(root, "html")

	art, err := Publish([]domain.Entry{"x.com"}, Target{Output: out, PublishDir: pub}, nil)
	require.NoError(t, err)
	assert.Equal(t, out, art.Path)
	_, err = os.Stat(pub)
	assert.True(t, os.IsNotExist(err), "不应创建发布目录")
}

func TestPublish_WriteFailureIsPublishError(t *testing.T) {
	root := t.TempDir()
	// 输出路径本身是目录：原子写入必然失败。
	out := filepath.Join(root, "ads_list.txt")
	require.NoError(t, os.Mkdir(out, 0o755))

	_, err := Publish([]domain.Entry{"x.com"}, Target{Output: out}, nil)
	var pe *Error
	require.True(t, errors.As(err, &pe), "期望 *publish.Error，实际 %v", err)
	assert.Equal(t, StageWrite, pe.Stage)
}

func TestPublish_RelocateFailureIsPublishError(t *testing.T) {
	withRelocate(t, true)
	root := t.TempDir()
	out := filepath.Join(root, "ads_list.txt")
	pub := filepath.Join(root, "html")
	// 发布目录位置是一个普通文件。
	require.NoError(t, os.WriteFile(pub, []byte("x"), 0o644))

	_, err := Publish([]domain.Entry{"x.com"}, Target{Output: out, PublishDir: pub}, nil)
	var pe *Error
	require.True(t, errors.As(err, &pe), "期望 *publish.Error，实际 %v", err)
	assert.Equal(t, StageRelocate, pe.Stage)
}

func TestPublish_EmptyOutputPath(t *testing.T) {
	_, err := Publish(nil, Target{}, nil)
	var pe *Error
	require.True(t, errors.As(err, &pe))
}

func withRelocate(t *testing.T, v bool) {
	t.Helper()
	old := relocateSupported
	relocateSupported = v
	t.Cleanup(func() { relocateSupported = old })
}
