// Package overlay presents document sections as full-viewport modals.
//
// The open section is held in an explicit state variable; the document
// attributes, the dismiss button and the shared backdrop are side effects of
// each transition. Overlay is the only writer of those elements, and after
// every transition either exactly one section carries the open flag and one
// backdrop exists, or neither does.
package overlay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quantpanel/quantpanel/internal/config"
	"github.com/quantpanel/quantpanel/internal/dom"
	"github.com/quantpanel/quantpanel/internal/metrics"
	"github.com/quantpanel/quantpanel/internal/registry"
)

// Document side effects of an open overlay.
const (
	AttrOpen       = "data-overlay-open"
	ClassOpen      = "overlay-open"
	DismissID      = "overlay-dismiss"
	BackdropID     = "overlay-backdrop"
	AttrScrollLock = "data-scroll-locked"
	CancelKey      = "Escape"
)

const (
	dismissHTML  = `<button type="button" id="` + DismissID + `" class="overlay-dismiss" aria-label="Fechar">&times;</button>`
	backdropHTML = `<div id="` + BackdropID + `" class="overlay-backdrop"></div>`
)

// Transition actions.
const (
	ActionOpen   = "open"
	ActionSwitch = "switch"
	ActionClose  = "close"
	ActionNoop   = "noop"
)

// State is Closed when Section is empty, Open(Section) otherwise.
type State struct {
	Section string `json:"section,omitempty"`
}

// IsOpen reports whether a section is open.
func (s State) IsOpen() bool { return s.Section != "" }

// Transition describes the effect of one call.
type Transition struct {
	From    State             `json:"from"`
	To      State             `json:"to"`
	Action  string            `json:"action"`
	Refresh []registry.Result `json:"refresh,omitempty"`
}

// Overlay is the overlay layer of one page load.
type Overlay struct {
	doc     *dom.Document
	reg     *registry.Registry
	aliases map[string]string
	refresh map[string][]string
	metrics *metrics.Collector
	pageID  string

	mu   sync.Mutex
	open string
}

// New creates a closed Overlay over doc. Refresh initializers are looked up
// in reg when a section opens.
func New(pageID string, doc *dom.Document, reg *registry.Registry, cfg config.OverlayConfig, m *metrics.Collector) *Overlay {
	return &Overlay{
		doc:     doc,
		reg:     reg,
		aliases: cfg.Aliases,
		refresh: cfg.Refresh,
		metrics: m,
		pageID:  pageID,
	}
}

// State returns the current state.
func (o *Overlay) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return State{Section: o.open}
}

// Open opens the section alias names. The home alias closes the overlay.
// An unknown alias, or one whose section is not in the document, leaves
// everything untouched. Opening while another section is open switches
// directly: the backdrop and scroll lock stay in place throughout.
//
// After the document is updated the section's refresh initializers run,
// best-effort. The only error is dom.ErrClosed for an ended page load.
func (o *Overlay) Open(ctx context.Context, alias string) (Transition, error) {
	section, known := o.aliases[alias]
	if !known {
		slog.Debug("overlay alias unknown", "page", o.pageID, "alias", alias)
		return o.noop(), nil
	}
	if section == "" {
		return o.Close()
	}
	if !o.doc.Has(section) {
		slog.Warn("overlay target missing", "page", o.pageID, "alias", alias, "section", section)
		return o.noop(), nil
	}

	o.mu.Lock()
	tr := Transition{From: State{Section: o.open}, To: State{Section: section}, Action: ActionOpen}
	if o.open != "" {
		tr.Action = ActionSwitch
		if err := o.detach(o.open); err != nil {
			o.open = ""
			o.mu.Unlock()
			return Transition{From: tr.From, Action: ActionClose}, err
		}
		o.open = ""
	}
	if err := o.attach(section); err != nil {
		// The section vanished between Has and attach, or the document
		// closed: fall back to a fully closed overlay.
		o.detach(section)
		o.teardown()
		o.mu.Unlock()
		if errors.Is(err, dom.ErrClosed) {
			return Transition{From: tr.From, Action: ActionClose}, err
		}
		slog.Warn("overlay open failed", "page", o.pageID, "section", section, "err", err)
		return Transition{From: tr.From, Action: ActionClose}, nil
	}
	o.open = section
	o.mu.Unlock()

	o.metrics.OverlayTransition(section, tr.Action)
	tr.Refresh = o.runRefresh(ctx, section)
	return tr, nil
}

// Close closes whichever section is open. It is a no-op when nothing is.
func (o *Overlay) Close() (Transition, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.open == "" {
		o.metrics.OverlayTransition("", ActionNoop)
		return Transition{Action: ActionNoop}, nil
	}
	from := State{Section: o.open}
	err := o.detach(o.open)
	if tErr := o.teardown(); err == nil {
		err = tErr
	}
	o.open = ""
	o.metrics.OverlayTransition(from.Section, ActionClose)
	if errors.Is(err, dom.ErrClosed) {
		return Transition{From: from, Action: ActionClose}, err
	}
	return Transition{From: from, Action: ActionClose}, nil
}

// HandleKey closes the overlay on the cancel key and ignores other keys.
func (o *Overlay) HandleKey(key string) (Transition, error) {
	if key != CancelKey {
		return o.noop(), nil
	}
	return o.Close()
}

// BackdropClick closes the overlay.
func (o *Overlay) BackdropClick() (Transition, error) {
	return o.Close()
}

// Sections returns the alias table.
func (o *Overlay) Sections() map[string]string {
	out := make(map[string]string, len(o.aliases))
	for k, v := range o.aliases {
		out[k] = v
	}
	return out
}

func (o *Overlay) noop() Transition {
	s := o.State()
	o.metrics.OverlayTransition(s.Section, ActionNoop)
	return Transition{From: s, To: s, Action: ActionNoop}
}

// attach marks section open and makes sure the shared backdrop and scroll
// lock exist. Must hold o.mu.
func (o *Overlay) attach(section string) error {
	if err := o.doc.SetAttr(section, AttrOpen, "true"); err != nil {
		return err
	}
	if err := o.doc.AddClass(section, ClassOpen); err != nil {
		return err
	}
	if err := o.doc.PrependHTML(section, dismissHTML); err != nil {
		return err
	}
	if !o.doc.Has(BackdropID) {
		if err := o.doc.AppendBody(backdropHTML); err != nil {
			return err
		}
	}
	return o.doc.SetBodyAttr(AttrScrollLock, "true")
}

// detach clears the open flag and dismiss button from section. A section
// that has left the document is already detached. Must hold o.mu.
func (o *Overlay) detach(section string) error {
	for _, err := range []error{
		o.doc.RemoveAttr(section, AttrOpen),
		o.doc.RemoveClass(section, ClassOpen),
		o.doc.Remove(DismissID),
	} {
		if err != nil && !errors.Is(err, dom.ErrMissing) {
			return err
		}
	}
	return nil
}

// teardown removes the backdrop and restores scrolling. Must hold o.mu.
func (o *Overlay) teardown() error {
	if err := o.doc.Remove(DismissID); err != nil && !errors.Is(err, dom.ErrMissing) {
		return err
	}
	if err := o.doc.Remove(BackdropID); err != nil && !errors.Is(err, dom.ErrMissing) {
		return err
	}
	if err := o.doc.RemoveBodyAttr(AttrScrollLock); err != nil && !errors.Is(err, dom.ErrMissing) {
		return err
	}
	return nil
}

func (o *Overlay) runRefresh(ctx context.Context, section string) []registry.Result {
	names := o.refresh[section]
	if len(names) == 0 {
		return nil
	}
	out := make([]registry.Result, 0, len(names))
	for _, name := range names {
		res := o.reg.Invoke(ctx, name)
		o.metrics.InitializerRan(name, res.Outcome.String(), "overlay")
		if res.Outcome == registry.OutcomeFailed {
			slog.Warn("overlay refresh failed", "page", o.pageID, "section", section,
				"initializer", name, "err", res.Err)
		}
		out = append(out, res)
	}
	return out
}

// String renders the state for logs.
func (s State) String() string {
	if s.Section == "" {
		return "closed"
	}
	return fmt.Sprintf("open(%s)", s.Section)
}
