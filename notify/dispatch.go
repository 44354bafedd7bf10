package notify

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"k8s.io/klog/v2"

	"github.com/warp/su-allocator/allocation"
)

// Outbox folders.
const (
	DraftsDir = "drafts"
	SentDir   = "sent"
)

// =============================================================================
// OUTBOX - Message files on any afs location
// =============================================================================

// Outbox renders events and writes each message to
// <root>/<drafts|sent>/<timestamp>_<recipient>.txt. Mail transport is not
// part of this module; an external job picks up the sent/ folder.
type Outbox struct {
	root     string
	fs       afs.Service
	renderer *Renderer
	now      func() time.Time

	mu sync.Mutex
}

var _ allocation.Dispatcher = (*Outbox)(nil)

// NewOutbox creates the drafts/ and sent/ folders under root.
func NewOutbox(ctx context.Context, root string, renderer *Renderer, now func() time.Time) (*Outbox, error) {
	if root == "" {
		return nil, fmt.Errorf("outbox root cannot be empty")
	}
	if now == nil {
		now = time.Now
	}
	o := &Outbox{
		root:     url.Normalize(root, file.Scheme),
		fs:       afs.New(),
		renderer: renderer,
		now:      now,
	}
	for _, dir := range []string{DraftsDir, SentDir} {
		p := url.Join(o.root, dir)
		exists, err := o.fs.Exists(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to check outbox folder %s: %w", p, err)
		}
		if !exists {
			if err := o.fs.Create(ctx, p, file.DefaultDirOsMode, true); err != nil {
				return nil, fmt.Errorf("failed to create outbox folder %s: %w", p, err)
			}
		}
	}
	return o, nil
}

// Dispatch delivers an event, logging failures.
func (o *Outbox) Dispatch(ctx context.Context, ev allocation.Event) {
	if _, err := o.Deliver(ctx, ev); err != nil {
		klog.Errorf("[Outbox] Failed to deliver %s for %s: %v", ev.Kind(), ev.GroupID(), err)
	}
}

// Deliver renders an event and writes its messages. It returns the written
// file URLs.
func (o *Outbox) Deliver(ctx context.Context, ev allocation.Event) ([]string, error) {
	msgs, err := o.renderer.Render(ev)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	var written []string
	for _, m := range msgs {
		p, err := o.write(ctx, m)
		if err != nil {
			return written, err
		}
		klog.V(2).Infof("[Outbox] Wrote %s", p)
		written = append(written, p)
	}
	return written, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9@._-]`)

func (o *Outbox) write(ctx context.Context, m Message) (string, error) {
	dir := SentDir
	if m.Draft {
		dir = DraftsDir
	}
	stamp := o.now().Format("2006_01_02_15_04_05.00")
	base := stamp + "_" + unsafeName.ReplaceAllString(m.Recipient, "_")

	// a leader of several groups gets several reports in the same instant
	p := url.Join(o.root, dir, base+".txt")
	for n := 2; ; n++ {
		exists, err := o.fs.Exists(ctx, p)
		if err != nil {
			return "", err
		}
		if !exists {
			break
		}
		p = url.Join(o.root, dir, fmt.Sprintf("%s_%d.txt", base, n))
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Subject: %s\n\n%s", m.Subject, m.Body)
	if err := o.fs.Upload(ctx, p, file.DefaultFileOsMode, &buf); err != nil {
		return "", fmt.Errorf("failed to write message %s: %w", p, err)
	}
	return p, nil
}

// List returns the message file names in a folder, oldest first.
func (o *Outbox) List(ctx context.Context, folder string) ([]string, error) {
	objects, err := o.fs.List(ctx, url.Join(o.root, folder))
	if err != nil {
		return nil, err
	}
	var names []string
	for _, obj := range objects {
		if obj.IsDir() || !strings.HasSuffix(obj.Name(), ".txt") {
			continue
		}
		names = append(names, path.Base(obj.Name()))
	}
	sort.Strings(names)
	return names, nil
}

// =============================================================================
// LOG, RECORDER AND FAN-OUT
// =============================================================================

// LogDispatcher logs one line per event.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, ev allocation.Event) {
	switch e := ev.(type) {
	case allocation.NewPeriodAllocation:
		klog.Infof("[Notify] %s group=%s period=%d budget=%s penalty_carried=%s draft=%v",
			ev.Kind(), e.Group.ID, e.Period.Index, e.Record.Budget, e.Record.PenaltyNew, ev.IsDraft())
	case allocation.UsageWarning:
		klog.Infof("[Notify] %s group=%s period=%d usage=%s budget=%s draft=%v",
			ev.Kind(), e.Group.ID, e.Period.Index, e.NewUsage, e.Record.Budget, ev.IsDraft())
	default:
		klog.Infof("[Notify] %s group=%s draft=%v", ev.Kind(), ev.GroupID(), ev.IsDraft())
	}
}

// Recorder keeps dispatched events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []allocation.Event
}

func (r *Recorder) Dispatch(_ context.Context, ev allocation.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []allocation.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]allocation.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Reset forgets all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// Multi dispatches every event to each dispatcher in order.
type Multi []allocation.Dispatcher

func (m Multi) Dispatch(ctx context.Context, ev allocation.Event) {
	for _, d := range m {
		d.Dispatch(ctx, ev)
	}
}
