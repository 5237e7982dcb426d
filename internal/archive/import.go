package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/blockedby/teleclone/internal/logger"
	"github.com/blockedby/teleclone/internal/media"
	"github.com/blockedby/teleclone/internal/telegram"
)

// DefaultImportDelay paces sends during an import.
const DefaultImportDelay = 2 * time.Second

var (
	// ErrPrefixNotFound is returned when no block links a file with the
	// requested sequence prefix.
	ErrPrefixNotFound = errors.New("sequence prefix not found")
	// ErrNoManifest is returned for a directory without chat.html.
	ErrNoManifest = errors.New("chat.html not found")
)

var seqPrefix = regexp.MustCompile(`^(\d+)_`)

// photoExts are sent as photos; other images go as documents.
var photoExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true}

// Sender is what an import writes to.
type Sender interface {
	media.Uploader
	SendText(ctx context.Context, dst telegram.Peer, text string, replyTo int) error
	SendMedia(ctx context.Context, dst telegram.Peer, out telegram.Outgoing) error
}

// ImportStatus classifies one replayed block.
type ImportStatus int

// Block outcomes.
const (
	ImportSent ImportStatus = iota
	ImportSkipped
	ImportFailed
)

func (s ImportStatus) String() string {
	switch s {
	case ImportSent:
		return "sent"
	case ImportSkipped:
		return "skipped"
	default:
		return "failed"
	}
}

// ImportResult is the outcome of one block.
type ImportResult struct {
	Position int    // 1-based block position in chat.html
	File     string // uploaded name, empty for text
	Status   ImportStatus
	Err      error
}

// ImportSummary counts outcomes.
type ImportSummary struct {
	Sent    int
	Skipped int
	Failed  int
}

// ImportOptions tunes one import.
type ImportOptions struct {
	TopicID int
	// StartPrefix starts at the block whose file carries this sequence
	// prefix; nil starts at the first block.
	StartPrefix *int
	Delay       time.Duration
	OnBlock     func(ImportResult)
}

// Importer replays archive directories into a conversation.
type Importer struct {
	remote Sender
	flood  *telegram.FloodPolicy
	fs     afero.Fs
	upload media.UploadConfig
	log    *logger.Logger
	sleep  telegram.Sleeper
}

// NewImporter creates an importer. fs may be nil for the OS filesystem.
func NewImporter(remote Sender, flood *telegram.FloodPolicy, fs afero.Fs, upload media.UploadConfig, log *logger.Logger) *Importer {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logger.Get()
	}
	if flood == nil {
		flood = telegram.NewFloodPolicy(telegram.DefaultFloodWait, log)
	}
	if upload.PartSize == 0 {
		upload = media.DefaultUploadConfig()
	}
	return &Importer{remote: remote, flood: flood, fs: fs, upload: upload, log: log, sleep: telegram.SleepContext}
}

// LoadManifest parses dir/chat.html.
func LoadManifest(fs afero.Fs, dir string) (*Manifest, error) {
	f, err := fs.Open(filepath.Join(dir, ManifestFile))
	if err != nil {
		if errors.Is(err, afero.ErrFileNotFound) {
			return nil, ErrNoManifest
		}
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()
	return ParseManifest(f)
}

// SeqOf returns the sequence prefix of an archive file name.
func SeqOf(name string) (int, bool) {
	m := seqPrefix.FindStringSubmatch(path.Base(name))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	return n, err == nil
}

// StripSeq removes the sequence prefix from an archive file name.
func StripSeq(name string) string {
	return seqPrefix.ReplaceAllString(name, "")
}

// Import sends every block of dir/chat.html, in order, to dst. Blocks
// with neither a file on disk nor text are skipped with a warning.
// Per-block failures are counted; fatal destination errors stop the run.
func (i *Importer) Import(ctx context.Context, dir string, dst telegram.Peer, opts ImportOptions) (ImportSummary, error) {
	var sum ImportSummary

	m, err := LoadManifest(i.fs, dir)
	if err != nil {
		return sum, err
	}

	start := 0
	if opts.StartPrefix != nil {
		start = -1
		for idx, b := range m.Blocks {
			if p := i.resolve(dir, b); p != "" {
				if seq, ok := SeqOf(p); ok && seq == *opts.StartPrefix {
					start = idx
					break
				}
			}
		}
		if start < 0 {
			return sum, fmt.Errorf("%w: %d", ErrPrefixNotFound, *opts.StartPrefix)
		}
	}

	blocks := m.Blocks[start:]
	i.log.Info().
		Str("dir", dir).
		Str("destination", dst.DisplayName()).
		Int("blocks", len(blocks)).
		Int("from", start+1).
		Msg("archive: import started")

	for n, b := range blocks {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		res := ImportResult{Position: start + n + 1}
		file := i.resolve(dir, b)
		txt := b.Text()

		switch {
		case file != "":
			res.File = StripSeq(path.Base(file))
			res.Err = i.sendFile(ctx, dst, opts.TopicID, filepath.Join(dir, filepath.FromSlash(file)), res.File, txt)
		case txt != "":
			res.Err = i.flood.Do(ctx, "send_text", func(ctx context.Context) error {
				return i.remote.SendText(ctx, dst, txt, opts.TopicID)
			})
		default:
			i.log.Warn().Int("position", res.Position).Msg("archive: block has no content, skipping")
			res.Status = ImportSkipped
			sum.Skipped++
			if opts.OnBlock != nil {
				opts.OnBlock(res)
			}
			continue
		}

		if res.Err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			res.Status = ImportFailed
			sum.Failed++
			i.log.Error().Err(res.Err).Int("position", res.Position).Str("file", res.File).Msg("archive: block failed")
			if opts.OnBlock != nil {
				opts.OnBlock(res)
			}
			if telegram.IsFatal(res.Err) {
				return sum, fmt.Errorf("import block %d: %w", res.Position, res.Err)
			}
			continue
		}

		res.Status = ImportSent
		sum.Sent++
		if opts.OnBlock != nil {
			opts.OnBlock(res)
		}

		if opts.Delay > 0 && n < len(blocks)-1 {
			if err := i.sleep(ctx, opts.Delay); err != nil {
				return sum, err
			}
		}
	}

	i.log.Info().
		Int("sent", sum.Sent).
		Int("skipped", sum.Skipped).
		Int("failed", sum.Failed).
		Msg("archive: import finished")
	return sum, nil
}

// resolve returns the block's media link when the file exists.
func (i *Importer) resolve(dir string, b *ParsedBlock) string {
	p := b.MediaPath()
	if p == "" {
		return ""
	}
	fi, err := i.fs.Stat(filepath.Join(dir, filepath.FromSlash(p)))
	if err != nil || fi.IsDir() {
		return ""
	}
	return p
}

func (i *Importer) sendFile(ctx context.Context, dst telegram.Peer, topicID int, fullPath, name, caption string) error {
	src, err := openFileSource(i.fs, fullPath)
	if err != nil {
		return err
	}
	defer src.Close()

	ext := strings.ToLower(filepath.Ext(name))
	out := telegram.Outgoing{
		FileName: name,
		Caption:  caption,
		ReplyTo:  topicID,
		MIME:     src.mime(),
	}
	switch {
	case photoExts[ext]:
		out.Photo = true
	case media.IsVideoExt(ext):
		out.Streaming = true
		out.Video = &telegram.VideoMeta{}
		if !strings.HasPrefix(out.MIME, "video/") {
			out.MIME = "video/mp4"
		}
	}

	file, err := media.Upload(ctx, i.remote, i.flood, src, name, i.upload, i.log)
	if err != nil {
		return err
	}
	out.File = file

	return i.flood.Do(ctx, "send_media", func(ctx context.Context) error {
		return i.remote.SendMedia(ctx, dst, out)
	})
}

// fileSource replays an archive file for upload.
type fileSource struct {
	f    afero.File
	size int64
}

func openFileSource(fs afero.Fs, name string) (*fileSource, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(name), err)
	}
	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat %s: %w", filepath.Base(name), err)
	}
	return &fileSource{f: f, size: fi.Size()}, nil
}

func (s *fileSource) Reader() (io.ReadSeeker, error) {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return s.f, nil
}

func (s *fileSource) Size() int64 { return s.size }

func (s *fileSource) Close() error { return s.f.Close() }

// mime sniffs the content type from the file head.
func (s *fileSource) mime() string {
	r, err := s.Reader()
	if err != nil {
		return ""
	}
	m, err := mimetype.DetectReader(r)
	if err != nil {
		return ""
	}
	mime, _, _ := strings.Cut(m.String(), ";")
	return mime
}
