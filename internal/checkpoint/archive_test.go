package checkpoint

import (
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/teleclone/internal/logger"
)

func TestArchive_Fresh(t *testing.T) {
	a := LoadArchive(afero.NewMemMapFs(), "Group/General", logger.Nop())

	assert.False(t, a.Done(1))
	assert.Zero(t, a.Bytes())
	assert.Zero(t, a.DoneCount())
}

func TestArchive_MarkDonePersists(t *testing.T) {
	fs := afero.NewMemMapFs()
	a := LoadArchive(fs, "Group/General", logger.Nop())

	a.MarkDone(10, 100)
	a.MarkDone(12, 50)
	a.MarkDone(10, 100) // duplicate is ignored

	assert.True(t, a.Done(10))
	assert.Equal(t, int64(150), a.Bytes())

	data, err := afero.ReadFile(fs, "Group/General/checkpoint.json")
	require.NoError(t, err)
	var raw struct {
		DoneIDs []int `json:"done_ids"`
		Bytes   int64 `json:"bytes"`
	}
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, []int{10, 12}, raw.DoneIDs)
	assert.Equal(t, int64(150), raw.Bytes)

	reloaded := LoadArchive(fs, "Group/General", logger.Nop())
	assert.True(t, reloaded.Done(12))
	assert.Equal(t, 2, reloaded.DoneCount())
	assert.Equal(t, int64(150), reloaded.Bytes())
}

func TestArchive_CorruptFileStartsFresh(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "d/checkpoint.json", []byte("garbage"), 0o644))

	a := LoadArchive(fs, "d", logger.Nop())
	assert.Zero(t, a.DoneCount())
}

func TestArchive_SaveFailureIsSwallowed(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	a := LoadArchive(fs, "d", logger.Nop())

	assert.NotPanics(t, func() { a.MarkDone(1, 10) })
	assert.True(t, a.Done(1), "in-memory state still advances")
}
