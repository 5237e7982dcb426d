package main

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	pw "github.com/jedib0t/go-pretty/v6/progress"

	"github.com/blockedby/teleclone/internal/archive"
	"github.com/blockedby/teleclone/internal/transfer"
)

var byteUnits = pw.Units{
	Notation:  pw.UnitsBytes.Notation,
	Formatter: func(v int64) string { return humanize.Bytes(uint64(v)) },
}

// progressView renders trackers on a terminal until stopped.
type progressView struct {
	pw pw.Writer
}

func newProgressView(out io.Writer) *progressView {
	p := pw.NewWriter()
	p.SetOutputWriter(out)
	p.SetAutoStop(false)
	p.SetTrackerLength(20)
	p.SetMessageLength(40)
	p.SetStyle(pw.StyleLight)
	p.SetTrackerPosition(pw.PositionRight)
	p.SetUpdateFrequency(100 * time.Millisecond)
	p.Style().Colors = pw.StyleColorsExample
	p.Style().Options.PercentFormat = "%4.1f%%"
	p.Style().Options.ErrorString = color.RedString("failed!")
	p.Style().Options.DoneString = color.GreenString("done!")
	p.Style().Visibility.ETA = true
	p.Style().Visibility.Speed = true
	p.Style().Visibility.TrackerOverall = true
	return &progressView{pw: p}
}

func (v *progressView) start() {
	go v.pw.Render()
	for !v.pw.IsRenderInProgress() {
		time.Sleep(time.Millisecond)
	}
}

// stop blocks until the final frame is written.
func (v *progressView) stop() {
	v.pw.Stop()
	for v.pw.IsRenderInProgress() {
		time.Sleep(10 * time.Millisecond)
	}
}

// transferBar follows a forward or mirror run. Its total is the counted
// message total, or unknown when counting was not requested.
type transferBar struct {
	view    *progressView
	tracker *pw.Tracker

	mu    sync.Mutex
	total int
	last  transfer.State
}

func newTransferBar(view *progressView, message string) *transferBar {
	t := &pw.Tracker{Message: message, Units: pw.UnitsDefault}
	view.pw.AppendTracker(t)
	return &transferBar{view: view, tracker: t, last: transfer.StateInit}
}

func (b *transferBar) onChange(s transfer.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if s.Total > 0 && s.Total != b.total {
		b.total = s.Total
		b.tracker.UpdateTotal(int64(s.Total))
	}
	b.tracker.SetValue(int64(s.Summary.Total()))

	if s.State == b.last {
		return
	}
	b.last = s.State
	switch s.State {
	case transfer.StateBackoff:
		b.view.pw.Log("%s", color.YellowString("rate limited until %s", s.BackoffUntil.Format("15:04:05")))
	case transfer.StateCounting, transfer.StateResolvingTopics:
		b.view.pw.Log("%s", s.State)
	}
}

func (b *transferBar) done(err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		b.tracker.MarkAsErrored()
		return
	}
	b.tracker.MarkAsDone()
}

// exportBar shows one byte tracker per downloaded file.
type exportBar struct {
	view     *progressView
	trackers sync.Map // file name -> *pw.Tracker
}

var _ archive.DownloadProgress = (*exportBar)(nil)

func newExportBar(view *progressView) *exportBar {
	return &exportBar{view: view}
}

func (b *exportBar) OnAdd(name string, size int64) {
	t := &pw.Tracker{Message: name, Total: size, Units: byteUnits}
	b.view.pw.AppendTracker(t)
	b.trackers.Store(name, t)
}

func (b *exportBar) OnDownload(name string, written int64) {
	if t, ok := b.tracker(name); ok {
		t.SetValue(written)
	}
}

func (b *exportBar) OnDone(name string, err error) {
	t, ok := b.tracker(name)
	if !ok {
		return
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			b.view.pw.Log("%s", color.RedString("%s: %v", name, err))
		}
		t.MarkAsErrored()
		return
	}
	t.MarkAsDone()
}

func (b *exportBar) tracker(name string) (*pw.Tracker, bool) {
	v, ok := b.trackers.Load(name)
	if !ok {
		return nil, false
	}
	return v.(*pw.Tracker), true
}
