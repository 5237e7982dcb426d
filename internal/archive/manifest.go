// Package archive exports a conversation to a browsable directory and
// replays such a directory into another conversation.
//
// An archive directory holds chat.html (one block per message), media/
// with files named <seq>_<name>, and checkpoint.json.
package archive

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Layout names inside an archive directory.
const (
	ManifestFile = "chat.html"
	MediaDir     = "media"
	mediaPrefix  = MediaDir + "/"
)

// Manifest markup. Class names are what the parser and repair look for.
const (
	classMessage   = "message"
	classSent      = "sent"
	classReceived  = "received"
	classSender    = "sender"
	classContent   = "content"
	classTimestamp = "timestamp"
	classButton    = "btn"

	imageStyle   = "max-width:100%;border-radius:8px;margin:6px 0"
	missingStyle = "opacity:0.5;text-decoration:line-through"

	// MissingLabel is shown instead of a file link when the file is absent.
	MissingLabel = "MEDIA MISSING"
	linkLabel    = "Link"

	// TimestampLayout formats block dates.
	TimestampLayout = "02/01/2006 15:04"
)

const headTemplate = "<!DOCTYPE html><html lang='en'><head><meta charset='utf-8'>" +
	"<meta name='viewport' content='width=device-width,initial-scale=1'>" +
	"<title>%s</title>" +
	"<style>body{background:#f0f4f7;font-family:-apple-system,BlinkMacSystemFont," +
	"'Segoe UI',sans-serif;margin:0;padding:10px}" +
	".chat-container{display:flex;flex-direction:column;gap:12px;max-width:800px;margin:auto}" +
	".message{background:#fff;border-radius:18px;padding:8px 15px;max-width:95%%;word-wrap:break-word;" +
	"box-shadow:0 1px 2px rgba(0,0,0,.1)}" +
	".sent{align-self:flex-end;background:#e1ffc7}" +
	".received{align-self:flex-start}" +
	".sender{font-weight:bold;color:#3b8ac4;margin-bottom:4px}" +
	".content{font-size:1rem}" +
	".timestamp{font-size:.75rem;color:#888;text-align:right;margin-top:5px}" +
	".btn{display:inline-block;margin-top:6px;padding:4px 8px;border:1px solid #3b8ac4;border-radius:6px;" +
	"background:#fff;color:#3b8ac4;font-size:.8rem;text-decoration:none}" +
	".btn:hover{background:#3b8ac4;color:#fff}</style></head>" +
	"<body><div class='chat-container'>\n"

const footer = "</div></body></html>\n"

// Block is one message as it appears in the manifest.
type Block struct {
	Sender    string
	Text      string
	Out       bool
	HasMedia  bool   // the message carried an attachment
	File      string // name under media/; empty when the file is absent
	Image     bool   // File gets an inline preview
	Permalink string
	Date      time.Time
}

// WriteManifest renders a complete manifest.
func WriteManifest(w io.Writer, title string, blocks []Block) error {
	if _, err := fmt.Fprintf(w, headTemplate, html.EscapeString(title)); err != nil {
		return err
	}
	for _, b := range blocks {
		if err := html.Render(w, blockNode(b)); err != nil {
			return fmt.Errorf("render block: %w", err)
		}
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, footer)
	return err
}

// RenderManifest is WriteManifest into memory.
func RenderManifest(title string, blocks []Block) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteManifest(&buf, title, blocks); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func element(a atom.Atom, attrs ...string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	for i := 0; i+1 < len(attrs); i += 2 {
		n.Attr = append(n.Attr, html.Attribute{Key: attrs[i], Val: attrs[i+1]})
	}
	return n
}

func text(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

func div(class string, children ...*html.Node) *html.Node {
	n := element(atom.Div, "class", class)
	for _, c := range children {
		n.AppendChild(c)
	}
	return n
}

func imageNode(file string) *html.Node {
	return element(atom.Img, "src", mediaPrefix+file, "style", imageStyle)
}

func fileLink(file string) *html.Node {
	a := element(atom.A, "href", mediaPrefix+file, "class", classButton)
	a.AppendChild(text(file))
	return a
}

func missingMarker() *html.Node {
	a := element(atom.A, "class", classButton, "style", missingStyle)
	a.AppendChild(text(MissingLabel))
	return a
}

func blockNode(b Block) *html.Node {
	side := classReceived
	if b.Out {
		side = classSent
	}

	content := div(classContent)
	for i, line := range strings.Split(b.Text, "\n") {
		if i > 0 {
			content.AppendChild(element(atom.Br))
		}
		if line != "" {
			content.AppendChild(text(line))
		}
	}

	n := div(classMessage+" "+side,
		div(classSender, text(b.Sender)),
		content,
	)

	if b.HasMedia {
		if b.File != "" {
			if b.Image {
				n.AppendChild(imageNode(b.File))
			}
			n.AppendChild(fileLink(b.File))
		} else {
			n.AppendChild(missingMarker())
		}
	}

	if b.Permalink != "" {
		link := element(atom.A, "href", b.Permalink, "class", classButton)
		link.AppendChild(text(linkLabel))
		n.AppendChild(link)
	}

	ts := ""
	if !b.Date.IsZero() {
		ts = b.Date.Local().Format(TimestampLayout)
	}
	n.AppendChild(div(classTimestamp, text(ts)))
	return n
}
