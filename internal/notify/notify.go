// Package notify is the user-facing notification sink: fire-and-forget
// toasts for connection-lost, connection-restored, send-failed and
// retry-exhausted signals. The sync core never depends on delivery
// succeeding.
package notify

import "github.com/rs/zerolog"

// Variant mirrors the toast styling hint consumed by the UI.
type Variant string

const (
	VariantInfo        Variant = "info"
	VariantSuccess     Variant = "success"
	VariantDestructive Variant = "destructive"
)

// Toast is one notification.
type Toast struct {
	Title       string
	Description string
	Variant     Variant
}

// Notifier delivers toasts. Implementations must be safe for concurrent
// use and must never block the caller on delivery.
type Notifier interface {
	Toast(t Toast)
}

// LogNotifier writes toasts to the structured log. Always installed; the
// desktop sink is layered on top when enabled.
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier(log zerolog.Logger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Toast(t Toast) {
	ev := n.log.Info()
	if t.Variant == VariantDestructive {
		ev = n.log.Warn()
	}
	ev.Str("title", t.Title).Str("variant", string(t.Variant)).Msg(t.Description)
}

// Multi fans one toast out to several sinks.
type Multi []Notifier

func (m Multi) Toast(t Toast) {
	for _, n := range m {
		n.Toast(t)
	}
}
