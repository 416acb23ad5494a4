package notify

import (
	"github.com/gen2brain/beeep"
	"github.com/rs/zerolog"
)

const appName = "Stitch"

// DesktopNotifier shows OS-level toasts. Delivery failures are logged and
// otherwise ignored; the terminal view still reflects the state change.
type DesktopNotifier struct {
	log zerolog.Logger
}

// NewDesktopNotifier creates a desktop notifier.
func NewDesktopNotifier(log zerolog.Logger) *DesktopNotifier {
	return &DesktopNotifier{log: log}
}

func (n *DesktopNotifier) Toast(t Toast) {
	go func() {
		title := appName
		if t.Title != "" {
			title = appName + ": " + t.Title
		}
		if err := beeep.Notify(title, t.Description, ""); err != nil {
			n.log.Debug().Err(err).Msg("desktop notification failed")
		}
	}()
}
