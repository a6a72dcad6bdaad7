package notification

import "ai-trading-core/internal/logging"

// LoggingNotifier routes events through the structured logger. It is the
// default notifier wired at startup so emergency-stop/trader-error events
// are always visible somewhere even with no external provider configured.
type LoggingNotifier struct {
	log     *logging.Logger
	enabled bool
}

// NewLoggingNotifier builds a LoggingNotifier scoped to the "notification"
// component.
func NewLoggingNotifier() *LoggingNotifier {
	return &LoggingNotifier{log: logging.Default().WithComponent("notification"), enabled: true}
}

func (n *LoggingNotifier) Name() string    { return "logging" }
func (n *LoggingNotifier) IsEnabled() bool { return n.enabled }

// Send logs the event at Warn (trader error) or Error (emergency stop).
func (n *LoggingNotifier) Send(event Event) error {
	switch event.Kind {
	case KindEmergencyStop:
		n.log.Error(event.Message, "traderId", event.TraderID, "kind", string(event.Kind))
	default:
		n.log.Warn(event.Message, "traderId", event.TraderID, "kind", string(event.Kind))
	}
	return nil
}
