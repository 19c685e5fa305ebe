package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennethnrk/edgernetes-inference/internal/common/errdefs"
	"github.com/kennethnrk/edgernetes-inference/internal/common/modelid"
)

var testID = modelid.MustParse("coco/3")

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStoreLayout(t *testing.T) {
	s := newTestStore(t)
	assert.Equal(t, filepath.Join(s.Root(), "coco", "3"), s.Dir(testID))
	assert.Equal(t, filepath.Join(s.Root(), "coco", "3", "weights.onnx"), s.Path(testID, "weights.onnx"))
	assert.True(t, filepath.IsAbs(s.Dir(testID)))
}

func TestStoreExistsRequiresEveryFile(t *testing.T) {
	s := newTestStore(t)
	files := []string{"environment.json", "class_names.txt", "weights.onnx"}
	assert.False(t, s.Exists(testID, files))

	require.NoError(t, s.SaveBytes(testID, "weights.onnx", []byte{1, 2, 3}))
	require.NoError(t, s.SaveJSON(testID, "environment.json", map[string]string{"PREPROCESSING": "{}"}))
	assert.False(t, s.Exists(testID, files))

	require.NoError(t, s.SaveTextLines(testID, "class_names.txt", []string{"dog", "cat"}))
	assert.True(t, s.Exists(testID, files))
	assert.True(t, s.Exists(testID, nil))
}

func TestStoreRoundTrips(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.SaveTextLines(testID, "class_names.txt", []string{"dog", "bird", "cat"}))
	lines, err := s.LoadTextLines(testID, "class_names.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"dog", "bird", "cat"}, lines)

	require.NoError(t, s.SaveJSON(testID, "environment.json", map[string]any{"A": 1}))
	var env map[string]int
	require.NoError(t, s.LoadJSON(testID, "environment.json", &env))
	assert.Equal(t, map[string]int{"A": 1}, env)

	n, err := s.SaveFrom(testID, "nested/model.pt", strings.NewReader("weights"))
	require.NoError(t, err)
	assert.EqualValues(t, 7, n)
	b, err := s.LoadBytes(testID, "nested/model.pt")
	require.NoError(t, err)
	assert.Equal(t, "weights", string(b))
}

func TestStoreTextLinesToleratesCRLF(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveBytes(testID, "class_names.txt", []byte("a\r\nb\r\n")))
	lines, err := s.LoadTextLines(testID, "class_names.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestStoreMissingFileIsCacheCorruption(t *testing.T) {
	s := newTestStore(t)

	_, err := s.LoadBytes(testID, "weights.onnx")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errdefs.ErrCacheCorruption))

	_, err = s.LoadTextLines(testID, "class_names.txt")
	assert.True(t, errors.Is(err, errdefs.ErrCacheCorruption))

	require.NoError(t, s.SaveBytes(testID, "environment.json", []byte("not-json")))
	var v map[string]any
	err = s.LoadJSON(testID, "environment.json", &v)
	assert.True(t, errors.Is(err, errdefs.ErrCacheCorruption))
}

func TestStoreClear(t *testing.T) {
	s := newTestStore(t)
	other := modelid.MustParse("coco/4")
	require.NoError(t, s.SaveBytes(testID, "weights.onnx", []byte("x")))
	require.NoError(t, s.SaveBytes(other, "weights.onnx", []byte("y")))

	require.NoError(t, s.Clear(testID))
	assert.False(t, s.Exists(testID, []string{"weights.onnx"}))
	assert.True(t, s.Exists(other, []string{"weights.onnx"}))

	_, err := os.Stat(s.Dir(testID))
	assert.True(t, os.IsNotExist(err))
}

func TestStoreListAndDigest(t *testing.T) {
	s := newTestStore(t)
	entries, err := s.List(testID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, s.SaveBytes(testID, "weights.onnx", []byte("abc")))
	entries, err = s.List(testID)
	require.NoError(t, err)
	assert.Equal(t, []Entry{{Name: "weights.onnx", Size: 3}}, entries)

	d1, err := s.Digest(testID, "weights.onnx")
	require.NoError(t, err)
	assert.Len(t, d1, 64)

	require.NoError(t, s.SaveBytes(testID, "weights.onnx", []byte("abd")))
	d2, err := s.Digest(testID, "weights.onnx")
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}

// TestStoreConcurrentWritersSameFile checks last-writer-wins leaves a whole
// file from exactly one writer and no temp files behind.
func TestStoreConcurrentWritersSameFile(t *testing.T) {
	s := newTestStore(t)
	const writers = 16

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			payload := strings.Repeat(fmt.Sprintf("%02d", id), 4096)
			if err := s.SaveBytes(testID, "weights.onnx", []byte(payload)); err != nil {
				t.Errorf("SaveBytes() writer %d error = %v", id, err)
			}
		}(w)
	}
	wg.Wait()

	b, err := s.LoadBytes(testID, "weights.onnx")
	require.NoError(t, err)
	require.Len(t, b, 8192)
	assert.Equal(t, strings.Repeat(string(b[:2]), 4096), string(b))

	dirEntries, err := os.ReadDir(s.Dir(testID))
	require.NoError(t, err)
	assert.Len(t, dirEntries, 1)
}
