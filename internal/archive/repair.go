package archive

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/net/html"

	"github.com/blockedby/teleclone/internal/checkpoint"
	"github.com/blockedby/teleclone/internal/logger"
	"github.com/blockedby/teleclone/internal/media"
)

// RepairReport counts what a repair changed.
type RepairReport struct {
	LinksCreated  int
	PreviewsAdded int
	Missing       int
}

// Repair reconciles dir/chat.html with the files in dir/media: the block
// at position i is linked to the file named i_*, gaining an inline preview
// for images, and a block whose link has no file gets the missing marker.
func Repair(fs afero.Fs, dir string, log *logger.Logger) (RepairReport, error) {
	var rep RepairReport
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = logger.Get()
	}

	m, err := LoadManifest(fs, dir)
	if err != nil {
		return rep, err
	}

	files, err := mediaBySeq(fs, filepath.Join(dir, MediaDir))
	if err != nil {
		return rep, err
	}

	for idx, b := range m.Blocks {
		name, ok := files[idx+1]
		if !ok {
			if a := b.mediaLink(); a != nil {
				markMissing(a)
				rep.Missing++
			} else if b.Missing() {
				rep.Missing++
			}
			continue
		}

		link := b.mediaLink()
		if link == nil {
			link = b.missingMarker()
		}
		if link != nil {
			setAttr(link, "href", mediaPrefix+name)
			removeAttr(link, "style")
			setText(link, name)
		} else {
			link = fileLink(name)
			before := b.timestamp()
			if before == nil || before.Parent != b.node {
				b.node.AppendChild(link)
			} else {
				b.node.InsertBefore(link, before)
			}
			rep.LinksCreated++
		}

		if media.IsImageExt(filepath.Ext(name)) && !b.HasPreview() {
			link.Parent.InsertBefore(imageNode(name), link)
			rep.PreviewsAdded++
		}
	}

	data, err := m.Bytes()
	if err != nil {
		return rep, fmt.Errorf("render manifest: %w", err)
	}
	if err := checkpoint.WriteAtomic(fs, filepath.Join(dir, ManifestFile), data); err != nil {
		return rep, fmt.Errorf("write manifest: %w", err)
	}

	log.Info().
		Str("dir", dir).
		Int("links_created", rep.LinksCreated).
		Int("previews_added", rep.PreviewsAdded).
		Int("missing", rep.Missing).
		Msg("archive: manifest repaired")
	return rep, nil
}

func markMissing(a *html.Node) {
	removeAttr(a, "href")
	setAttr(a, "style", missingStyle)
	setText(a, MissingLabel)
}

// mediaBySeq maps sequence prefixes to file names in dir.
func mediaBySeq(fs afero.Fs, dir string) (map[int]string, error) {
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("read media dir: %w", err)
	}
	out := make(map[int]string, len(infos))
	for _, fi := range infos {
		// .part files are downloads that never completed
		if fi.IsDir() || strings.HasSuffix(fi.Name(), partSuffix) {
			continue
		}
		if seq, ok := SeqOf(fi.Name()); ok {
			out[seq] = fi.Name()
		}
	}
	return out, nil
}
