package tui

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"lautenbacher.net/clockpanel/logging"
	"lautenbacher.net/clockpanel/settings"
)

const (
	inspectorTitle = " CLOCKPANEL Settings Inspector "
	historyLines   = 8
)

// Inspector shows the persisted settings record, its raw bytes and the
// latest writes, and redraws whenever the store commits something.
type Inspector struct {
	app      *tview.Application
	fields   *tview.TextView
	raw      *tview.TextView
	history  *tview.TextView
	logView  *tview.TextView
	store    *settings.Store
	ossignal chan os.Signal
}

func NewInspector(store *settings.Store, ossignal chan os.Signal) *Inspector {
	return &Inspector{
		app:      tview.NewApplication(),
		store:    store,
		ossignal: ossignal,
	}
}

// Start runs the TUI until stopSignal is closed or the user quits. It
// should be called as a goroutine.
func (in *Inspector) Start(stopSignal chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	in.setupUI()
	if err := logging.SetOutput(in.logView); err != nil {
		slog.Error("Failed to route logs into the inspector", "error", err)
	}
	in.refresh()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopSignal:
				slog.Info("Stopping settings inspector...")
				in.app.Stop()
				return
			case <-done:
				return
			case <-in.store.Changes().C():
				in.refresh()
			}
		}
	}()

	if err := in.app.Run(); err != nil {
		slog.Error("Error running settings inspector", "error", err)
	}
	close(done)
	if err := logging.SetOutput(os.Stderr); err != nil {
		slog.Error("Failed to restore log output", "error", err)
	}
	slog.Info("Settings inspector has stopped.")
}

func (in *Inspector) setupUI() {
	newView := func(title string) *tview.TextView {
		v := tview.NewTextView()
		v.SetDynamicColors(true)
		v.SetBackgroundColor(tcell.ColorDarkSlateGray)
		v.SetBorder(true).SetTitle(title).SetTitleColor(tcell.ColorLightBlue)
		return v
	}

	intro := newView(inspectorTitle)
	intro.SetTextAlign(tview.AlignCenter)
	intro.SetText("Hit [#ff0000]q[-] to exit, [#ff0000]r[-] to reload config file and restart")

	in.fields = newView(" Fields ")
	in.raw = newView(" Region ")
	in.history = newView(" Recent writes ")
	in.logView = newView(" Log ")
	in.logView.SetChangedFunc(func() { in.app.Draw() })

	top := tview.NewFlex().
		AddItem(in.fields, 0, 1, false).
		AddItem(in.history, 0, 1, false)

	layout := tview.NewFlex().SetDirection(tview.FlexRow)
	layout.AddItem(intro, 3, 1, false)
	layout.AddItem(top, historyLines+2, 1, false)
	layout.AddItem(in.raw, 3, 1, false)
	layout.AddItem(in.logView, 0, 1, true)

	in.app.SetRoot(layout, true).SetFocus(in.logView)
	in.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Rune() {
		case 'q', 'Q':
			in.app.Stop()
			in.signal(os.Interrupt)
		case 'r', 'R':
			in.app.Stop()
			in.signal(syscall.SIGHUP)
		}
		return event
	})
}

// signal queues sig unless a signal is already pending.
func (in *Inspector) signal(sig os.Signal) {
	select {
	case in.ossignal <- sig:
	default:
		slog.Debug("Signal already pending, dropping", "signal", sig)
	}
}

// refresh reads the store outside the UI goroutine and queues the redraw.
func (in *Inspector) refresh() {
	var fields, raw string
	state, err := in.store.Snapshot()
	if err != nil {
		fields = fmt.Sprintf("[red]%v[-]", err)
	} else {
		fields = formatFields(state)
	}
	bytes, err := in.store.Raw()
	if err != nil {
		raw = fmt.Sprintf("[red]%v[-]", err)
	} else {
		raw = formatRaw(in.store.Schema(), bytes)
	}
	history := formatHistory(in.store.Journal().Recent(), historyLines)

	in.app.QueueUpdateDraw(func() {
		in.fields.SetText(fields)
		in.raw.SetText(raw)
		in.history.SetText(history)
	})
}

func formatFields(s settings.Settings) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "[yellow]%-11s[white] %d\n", "Animation", s.MainAnimationID)
	fmt.Fprintf(&buf, "[yellow]%-11s[white] %d\n", "Separator", s.SeparatorAnimationID)
	fmt.Fprintf(&buf, "[yellow]%-11s[white] [%s]%s[-] (%d,%d,%d)\n", "Color", s.Color, s.Color, s.Color.R, s.Color.G, s.Color.B)
	fmt.Fprintf(&buf, "[yellow]%-11s[white] %t", "Mirror", s.Mirror)
	return buf.String()
}

// formatRaw prints the region as hex bytes, each labelled with the field
// that lives at its offset.
func formatRaw(schema *settings.Schema, raw []byte) string {
	owner := make(map[int]string, len(raw))
	for _, f := range schema.Fields() {
		for i := f.Offset; i < f.Offset+f.Width; i++ {
			owner[i] = f.Name
		}
	}
	parts := make([]string, len(raw))
	for i, b := range raw {
		name, ok := owner[i]
		if !ok {
			name = "-"
		}
		parts[i] = fmt.Sprintf("%d:[blue]%s[-]=%02x", i, name, b)
	}
	return strings.Join(parts, "  ")
}

func formatHistory(changes []settings.Change, max int) string {
	if len(changes) == 0 {
		return "no writes yet"
	}
	if len(changes) > max {
		changes = changes[len(changes)-max:]
	}
	lines := make([]string, 0, len(changes))
	for i := len(changes) - 1; i >= 0; i-- {
		c := changes[i]
		lines = append(lines, fmt.Sprintf("%s [blue]%-18s[-] %3d", c.Time.Format("15:04:05"), c.Field, c.Value))
	}
	return strings.Join(lines, "\n")
}
