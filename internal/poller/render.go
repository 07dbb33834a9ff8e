package poller

import (
	"fmt"
	"io"

	"cocowallet-sync/internal/models"
)

// TermRenderer prints progress lines to a terminal. Repeated renders of an
// identical snapshot write nothing, so re-rendering is a no-op.
type TermRenderer struct {
	w    io.Writer
	last models.SyncSnapshot
	seen bool
}

// NewTermRenderer writes progress to w.
func NewTermRenderer(w io.Writer) *TermRenderer {
	return &TermRenderer{w: w}
}

// Render implements Renderer.
func (r *TermRenderer) Render(snap models.SyncSnapshot) {
	if r.seen && snap.Status == r.last.Status && snap.Progress == r.last.Progress && snap.Message == r.last.Message {
		return
	}
	r.last = snap
	r.seen = true

	if snap.Message != "" {
		fmt.Fprintf(r.w, "[%3d%%] %s: %s\n", snap.Progress, snap.Status, snap.Message)
		return
	}
	fmt.Fprintf(r.w, "[%3d%%] %s\n", snap.Progress, snap.Status)
}
