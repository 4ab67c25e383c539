// Package indexing notifies the search engine indexing API about public
// store URLs that appeared or disappeared.
package indexing

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	indexingapi "google.golang.org/api/indexing/v3"
	"google.golang.org/api/option"

	"github.com/ManuelReschke/StoreFox/internal/pkg/sideeffects"
)

const (
	typeUpdated = "URL_UPDATED"
	typeDeleted = "URL_DELETED"
)

// Client publishes URL notifications through the Indexing API.
type Client struct {
	svc *indexingapi.Service
}

// NewClient creates an Indexing API client. credentialsFile may be empty to
// use application default credentials.
func NewClient(ctx context.Context, credentialsFile string, opts ...option.ClientOption) (*Client, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := indexingapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create indexing client: %w", err)
	}
	return &Client{svc: svc}, nil
}

func notificationType(kind sideeffects.ChangeKind) string {
	if kind == sideeffects.ChangeDeleted {
		return typeDeleted
	}
	return typeUpdated
}

// NotifyURLChanged publishes one notification. Publishing the same
// notification twice is harmless.
func (c *Client) NotifyURLChanged(ctx context.Context, url string, kind sideeffects.ChangeKind) error {
	_, err := c.svc.UrlNotifications.Publish(&indexingapi.UrlNotification{
		Url:  url,
		Type: notificationType(kind),
	}).Context(ctx).Do()
	return err
}

// LogNotifier only logs notifications. It is used when no indexing
// credentials are configured, e.g. in development.
type LogNotifier struct{}

func (LogNotifier) NotifyURLChanged(ctx context.Context, url string, kind sideeffects.ChangeKind) error {
	log.Debugf("[Indexing] %s %s (not sent, indexing disabled)", notificationType(kind), url)
	return nil
}
