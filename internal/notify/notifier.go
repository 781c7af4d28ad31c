// Package notify forwards engine alerts to operator channels such as Discord
// and Telegram. Alerts can be filtered by kind so operators only hear about
// the rejections they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

// Severity drives how a channel highlights a message.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Field is a labelled value rendered under the message body.
type Field struct {
	Name  string
	Value string
}

// Message is the channel-neutral form of a notification.
type Message struct {
	Title    string
	Body     string
	Severity Severity
	Fields   []Field
}

// Sender is implemented by every notification channel.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	// Name returns a short identifier such as "telegram".
	Name() string
}

// Notifier fans alerts out to its senders.
type Notifier struct {
	senders []Sender
	kinds   map[domain.AlertKind]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. Only alerts whose kind appears in kinds are
// forwarded; an empty list forwards every kind.
func NewNotifier(senders []Sender, kinds []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.AlertKind]bool, len(kinds))
	for _, k := range kinds {
		if k = strings.TrimSpace(k); k != "" {
			allowed[domain.AlertKind(k)] = true
		}
	}
	return &Notifier{
		senders: senders,
		kinds:   allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// NotifyAlert delivers a to every sender unless its kind is filtered out.
func (n *Notifier) NotifyAlert(ctx context.Context, a domain.Alert) error {
	if len(n.kinds) > 0 && !n.kinds[a.Kind] {
		n.logger.DebugContext(ctx, "alert filtered out", slog.String("kind", string(a.Kind)))
		return nil
	}
	return n.dispatch(ctx, AlertMessage(a))
}

// NotifyAll sends msg to every sender regardless of filters.
func (n *Notifier) NotifyAll(ctx context.Context, msg Message) error {
	return n.dispatch(ctx, msg)
}

// dispatch sends to every sender. One failing sender does not stop delivery
// to the others.
func (n *Notifier) dispatch(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, msg); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", msg.Title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// AlertMessage renders an alert for operators. Detail keys are sorted so the
// output is stable.
func AlertMessage(a domain.Alert) Message {
	msg := Message{
		Title:    fmt.Sprintf("prediclaw alert: %s", a.Kind),
		Body:     a.Message,
		Severity: alertSeverity(a.Kind),
		Fields: []Field{
			{Name: "bot", Value: a.BotID},
			{Name: "at", Value: a.CreatedAt.UTC().Format("2006-01-02 15:04:05Z07:00")},
		},
	}
	keys := make([]string, 0, len(a.Detail))
	for k := range a.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		msg.Fields = append(msg.Fields, Field{Name: k, Value: fmt.Sprint(a.Detail[k])})
	}
	return msg
}

func alertSeverity(kind domain.AlertKind) Severity {
	switch kind {
	case domain.AlertAuthorization:
		return SeverityError
	case domain.AlertLowBalance:
		return SeverityInfo
	default:
		return SeverityWarning
	}
}
