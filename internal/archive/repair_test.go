package archive

import (
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/teleclone/internal/logger"
)

const repairDir = "/archive/chat"

func writeRepairArchive(t *testing.T, fs afero.Fs) {
	t.Helper()
	blocks := []Block{
		{Sender: "Alice", Text: "photo", HasMedia: true},
		{Sender: "Bob", HasMedia: true},
		{Sender: "Bob", Text: "plain text"},
		{Sender: "Alice", HasMedia: true},
	}
	data, err := RenderManifest("chat", blocks)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(repairDir, ManifestFile), data, 0o644))

	for _, name := range []string{"1_media.jpg", "2_report.pdf", "3_notes.txt", "4_big.mkv.part"} {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(repairDir, MediaDir, name), []byte("x"), 0o644))
	}
}

func TestRepair_LinksFilesByPosition(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeRepairArchive(t, fs)

	rep, err := Repair(fs, repairDir, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, RepairReport{LinksCreated: 1, PreviewsAdded: 1, Missing: 1}, rep)

	m, err := LoadManifest(fs, repairDir)
	require.NoError(t, err)
	require.Len(t, m.Blocks, 4)

	assert.Equal(t, "media/1_media.jpg", m.Blocks[0].MediaPath())
	assert.True(t, m.Blocks[0].HasPreview())
	assert.False(t, m.Blocks[0].Missing())
	assert.Equal(t, "photo", m.Blocks[0].Text())

	assert.Equal(t, "media/2_report.pdf", m.Blocks[1].MediaPath())
	assert.False(t, m.Blocks[1].HasPreview())

	assert.Equal(t, "media/3_notes.txt", m.Blocks[2].MediaPath())
	assert.Equal(t, "plain text", m.Blocks[2].Text())

	assert.True(t, m.Blocks[3].Missing(), "partial downloads do not count")
}

func TestRepair_IsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeRepairArchive(t, fs)

	_, err := Repair(fs, repairDir, logger.Nop())
	require.NoError(t, err)
	rep, err := Repair(fs, repairDir, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, RepairReport{Missing: 1}, rep)
}

func TestRepair_MarksDeletedFiles(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeRepairArchive(t, fs)
	_, err := Repair(fs, repairDir, logger.Nop())
	require.NoError(t, err)

	require.NoError(t, fs.Remove(filepath.Join(repairDir, MediaDir, "2_report.pdf")))
	rep, err := Repair(fs, repairDir, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Missing)

	m, err := LoadManifest(fs, repairDir)
	require.NoError(t, err)
	assert.True(t, m.Blocks[1].Missing())
	assert.Empty(t, m.Blocks[1].MediaPath())
}

func TestRepair_NoManifest(t *testing.T) {
	_, err := Repair(afero.NewMemMapFs(), "/nowhere", logger.Nop())
	assert.ErrorIs(t, err, ErrNoManifest)
}
