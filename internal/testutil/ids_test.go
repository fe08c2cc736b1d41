package testutil

import (
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedIDGenerator_ReturnsSameID(t *testing.T) {
	gen := NewFixedIDGenerator("tmp-123")
	assert.Equal(t, "tmp-123", gen.Generate())
	assert.Equal(t, "tmp-123", gen.Generate())

	assert.Equal(t, "test-id", NewFixedIDGenerator("").Generate())
}

func TestSequenceIDGenerator_Ordered(t *testing.T) {
	gen := NewSequenceIDGenerator("tmp")
	assert.Equal(t, "tmp-1", gen.Generate())
	assert.Equal(t, "tmp-2", gen.Generate())
	assert.Equal(t, int64(2), gen.Current())

	gen.Reset()
	assert.Equal(t, "tmp-1", gen.Generate())
}

func TestSequenceIDGenerator_ThreadSafe(t *testing.T) {
	gen := NewSequenceIDGenerator("id")
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				gen.Generate()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(1000), gen.Current())
}

func TestFaultyFs_FailsOnDemand(t *testing.T) {
	fs := NewFaultyFs(afero.NewMemMapFs())

	require.NoError(t, afero.WriteFile(fs, "/a", []byte("x"), 0o600))
	assert.Equal(t, int64(1), fs.Writes())

	fs.FailRename(true)
	assert.Error(t, fs.Rename("/a", "/b"))
	fs.FailRename(false)
	assert.NoError(t, fs.Rename("/a", "/b"))

	fs.FailCreate(true)
	assert.Error(t, afero.WriteFile(fs, "/c", []byte("x"), 0o600))
}
