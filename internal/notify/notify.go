// Package notify renders and delivers the new-listing email digest. One
// message per scrape cycle that found anything, all recipients on the same
// message, skipped entirely when there is nothing to say.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/fundawatch/internal/listing"
)

// ErrMail marks a delivery failure. The cycle records it in last_error;
// listings stay persisted either way.
var ErrMail = errors.New("notify: delivery failure")

// Config configures the Notifier.
type Config struct {
	Sender Sender
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Notifier turns new listings into digests and hands them to a Sender.
type Notifier struct {
	cfg Config
}

// New creates a Notifier.
func New(cfg Config) *Notifier {
	cfg.defaults()
	return &Notifier{cfg: cfg}
}

// Notify sends one digest covering newListings to all recipients. Empty
// recipients or an empty batch is a no-op.
func (n *Notifier) Notify(ctx context.Context, recipients []string, profileName string, newListings []listing.Listing) error {
	if len(recipients) == 0 || len(newListings) == 0 {
		return nil
	}

	htmlBody, textBody, err := RenderDigest(profileName, newListings)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMail, err)
	}

	msg := Message{
		To:       recipients,
		Subject:  Subject(profileName, len(newListings)),
		HTMLBody: htmlBody,
		TextBody: textBody,
	}
	if err := n.cfg.Sender.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrMail, err)
	}

	n.cfg.Logger.Info("notify: digest sent",
		"profile", profileName, "recipients", len(recipients), "listings", len(newListings))
	return nil
}
