package archive

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/gotd/td/tgerr"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/teleclone/internal/logger"
	"github.com/blockedby/teleclone/internal/media"
	"github.com/blockedby/teleclone/internal/telegram"
)

const importDir = "/archive/Book Club/General"

// writeArchive lays out a directory with five blocks: text, photo with
// caption, missing media, video, pdf.
func writeArchive(t *testing.T, fs afero.Fs) {
	t.Helper()
	blocks := []Block{
		{Sender: "Alice", Text: "hello\nworld"},
		{Sender: "Bob", Text: "caption", HasMedia: true, File: "2_media.jpg", Image: true},
		{Sender: "Bob", HasMedia: true},
		{Sender: "Alice", HasMedia: true, File: "4_clip.mp4"},
		{Sender: "Alice", HasMedia: true, File: "5_report.pdf"},
	}
	data, err := RenderManifest("General", blocks)
	require.NoError(t, err)
	require.NoError(t, afero.WriteFile(fs, filepath.Join(importDir, ManifestFile), data, 0o644))

	files := map[string]string{
		"2_media.jpg":  "jpg",
		"4_clip.mp4":   "not really a video",
		"5_report.pdf": "%PDF-1.4\n",
	}
	for name, content := range files {
		require.NoError(t, afero.WriteFile(fs, filepath.Join(importDir, MediaDir, name), []byte(content), 0o644))
	}
}

func newTestImporter(remote Sender, fs afero.Fs) (*Importer, *sleepRecorder) {
	flood, _ := newTestFlood()
	i := NewImporter(remote, flood, fs, media.UploadConfig{}, logger.Nop())
	rec := &sleepRecorder{}
	i.sleep = rec.Sleep
	return i, rec
}

func TestSeqOf(t *testing.T) {
	seq, ok := SeqOf("media/007_report.pdf")
	assert.True(t, ok)
	assert.Equal(t, 7, seq)

	_, ok = SeqOf("report.pdf")
	assert.False(t, ok)

	assert.Equal(t, "report.pdf", StripSeq("007_report.pdf"))
	assert.Equal(t, "report_1.pdf", StripSeq("report_1.pdf"))
}

func TestImport_ReplaysBlocks(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeArchive(t, fs)
	remote := &fakeRemote{}
	imp, rec := newTestImporter(remote, fs)

	var results []ImportResult
	sum, err := imp.Import(context.Background(), importDir, group, ImportOptions{
		TopicID: 7,
		Delay:   time.Second,
		OnBlock: func(r ImportResult) { results = append(results, r) },
	})
	require.NoError(t, err)
	assert.Equal(t, ImportSummary{Sent: 4, Skipped: 1}, sum)

	assert.Equal(t, []string{"hello\nworld"}, remote.texts)
	require.Len(t, remote.sent, 3)

	photo := remote.sent[0].out
	assert.True(t, photo.Photo)
	assert.Equal(t, "media.jpg", photo.FileName)
	assert.Equal(t, "caption", photo.Caption)
	assert.Equal(t, "jpg", string(remote.sent[0].data))

	video := remote.sent[1].out
	assert.True(t, video.Streaming)
	assert.NotNil(t, video.Video)
	assert.Equal(t, "video/mp4", video.MIME)
	assert.Equal(t, "clip.mp4", video.FileName)

	doc := remote.sent[2].out
	assert.False(t, doc.Photo)
	assert.False(t, doc.Streaming)
	assert.Equal(t, "application/pdf", doc.MIME)

	assert.Equal(t, []int{7, 7, 7, 7}, remote.replyTo)

	// no pause after the skipped block or the last one
	assert.Equal(t, []time.Duration{time.Second, time.Second, time.Second}, rec.sleeps)

	require.Len(t, results, 5)
	assert.Equal(t, ImportSkipped, results[2].Status)
	assert.Equal(t, 3, results[2].Position)
	assert.Equal(t, "report.pdf", results[4].File)
}

func TestImport_StartPrefix(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeArchive(t, fs)
	remote := &fakeRemote{}
	imp, _ := newTestImporter(remote, fs)

	start := 4
	sum, err := imp.Import(context.Background(), importDir, group, ImportOptions{StartPrefix: &start})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Sent)
	assert.Empty(t, remote.texts)
	require.Len(t, remote.sent, 2)
	assert.Equal(t, "clip.mp4", remote.sent[0].out.FileName)

	missing := 9
	_, err = imp.Import(context.Background(), importDir, group, ImportOptions{StartPrefix: &missing})
	assert.ErrorIs(t, err, ErrPrefixNotFound)
}

func TestImport_FatalDestinationStops(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeArchive(t, fs)
	remote := &fakeRemote{sendErr: tgerr.New(403, "CHAT_WRITE_FORBIDDEN")}
	imp, _ := newTestImporter(remote, fs)

	sum, err := imp.Import(context.Background(), importDir, group, ImportOptions{})
	require.Error(t, err)
	assert.True(t, telegram.IsFatal(err))
	assert.Equal(t, ImportSummary{Failed: 1}, sum)
}

func TestImport_NoManifest(t *testing.T) {
	imp, _ := newTestImporter(&fakeRemote{}, afero.NewMemMapFs())
	_, err := imp.Import(context.Background(), "/nowhere", group, ImportOptions{})
	assert.ErrorIs(t, err, ErrNoManifest)
}

func TestExportThenImport(t *testing.T) {
	fx := newExportFixture()
	e, fs := newTestExporter(fx.remote)
	res, err := e.Export(context.Background(), group, general, ExportOptions{})
	require.NoError(t, err)

	dst := &fakeRemote{}
	imp, _ := newTestImporter(dst, fs)
	sum, err := imp.Import(context.Background(), res.Dir, group, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, ImportSummary{Sent: 4}, sum)

	assert.Equal(t, []string{"hello", "bye"}, dst.texts)
	require.Len(t, dst.sent, 2)
	assert.Equal(t, "look", dst.sent[0].out.Caption)
	assert.Equal(t, "jpg", string(dst.sent[0].data))
	assert.Equal(t, "report.pdf", dst.sent[1].out.FileName)
	assert.Equal(t, "%PDF-", string(dst.sent[1].data))
}
