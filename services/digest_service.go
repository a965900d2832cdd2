package services

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/models"
	"github.com/Thenameisdebojit/farmora-sub001/repositories"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDigestWindow      = 24 * time.Hour
	defaultDigestConcurrency = 4
)

type digestCopy struct {
	title   string
	message func(count int, categories string) string
}

var digestCopies = map[string]digestCopy{
	"en": {
		title: "Your daily farm digest",
		message: func(count int, categories string) string {
			if count == 1 {
				return fmt.Sprintf("You have 1 unread notification (%s).", categories)
			}
			return fmt.Sprintf("You have %d unread notifications (%s).", count, categories)
		},
	},
	"hi": {
		title: "आपका दैनिक कृषि सारांश",
		message: func(count int, categories string) string {
			return fmt.Sprintf("आपके पास %d अपठित सूचनाएँ हैं (%s)।", count, categories)
		},
	},
	"es": {
		title: "Tu resumen agrícola diario",
		message: func(count int, categories string) string {
			return fmt.Sprintf("Tienes %d notificaciones sin leer (%s).", count, categories)
		},
	},
}

// DigestRunStats summarises one digest job run.
type DigestRunStats struct {
	Recipients int `json:"recipients"`
	Generated  int `json:"generated"`
	Empty      int `json:"empty"`
	Failed     int `json:"failed"`
}

// DigestGenerator folds a recipient's recent unread notifications into one
// daily_digest notification and dispatches it straight away.
type DigestGenerator struct {
	store       repositories.NotificationStore
	directory   repositories.RecipientDirectory
	dispatcher  *Dispatcher
	window      time.Duration
	ttl         time.Duration
	concurrency int
	metrics     *Metrics
	now         func() time.Time
}

type DigestOption func(*DigestGenerator)

func WithDigestWindow(window time.Duration) DigestOption {
	return func(g *DigestGenerator) {
		if window > 0 {
			g.window = window
		}
	}
}

func WithDigestClock(now func() time.Time) DigestOption {
	return func(g *DigestGenerator) {
		if now != nil {
			g.now = now
		}
	}
}

func WithDigestMetrics(m *Metrics) DigestOption {
	return func(g *DigestGenerator) {
		g.metrics = m
	}
}

func WithDigestConcurrency(n int) DigestOption {
	return func(g *DigestGenerator) {
		if n > 0 {
			g.concurrency = n
		}
	}
}

func NewDigestGenerator(store repositories.NotificationStore, directory repositories.RecipientDirectory, dispatcher *Dispatcher, opts ...DigestOption) *DigestGenerator {
	g := &DigestGenerator{
		store:       store,
		directory:   directory,
		dispatcher:  dispatcher,
		window:      DefaultDigestWindow,
		ttl:         models.DefaultTTL,
		concurrency: defaultDigestConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run generates digests for every recipient opted into them. One recipient's
// failure does not stop the others.
func (g *DigestGenerator) Run(ctx context.Context) (DigestRunStats, error) {
	var stats DigestRunStats

	recipients, err := g.directory.ListDigestRecipients(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list digest recipients: %w", err)
	}
	stats.Recipients = len(recipients)

	type outcome struct {
		generated bool
		err       error
	}
	results := make([]outcome, len(recipients))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(g.concurrency)
	for i, recipientID := range recipients {
		i, recipientID := i, recipientID
		group.Go(func() error {
			digest, err := g.GenerateForRecipient(groupCtx, recipientID)
			results[i] = outcome{generated: digest != nil, err: err}
			return nil
		})
	}
	_ = group.Wait()

	var errs error
	for i, r := range results {
		switch {
		case r.err != nil:
			stats.Failed++
			errs = multierr.Append(errs, fmt.Errorf("digest for %s: %w", recipients[i], r.err))
		case r.generated:
			stats.Generated++
		default:
			stats.Empty++
		}
	}

	logrus.WithFields(logrus.Fields{
		"recipients": stats.Recipients,
		"generated":  stats.Generated,
		"failed":     stats.Failed,
	}).Info("Daily digest run finished")

	return stats, errs
}

// GenerateForRecipient creates and dispatches a digest. It returns nil when
// the recipient has nothing unread in the window.
func (g *DigestGenerator) GenerateForRecipient(ctx context.Context, recipientID string) (*models.Notification, error) {
	now := g.now()
	unread, err := g.store.FindUnread(ctx, recipientID, now.Add(-g.window), models.NotificationDailyDigest)
	if err != nil {
		return nil, utils.NewDatabaseError("find unread notifications", err)
	}
	if len(unread) == 0 {
		return nil, nil
	}

	digest := g.buildDigest(recipientID, unread, now)
	if err := g.store.Create(ctx, digest); err != nil {
		return nil, utils.NewDatabaseError("create digest", err)
	}
	g.metrics.IncDigests()

	if _, err := g.dispatcher.Dispatch(ctx, digest); err != nil {
		return digest, err
	}
	return digest, nil
}

func (g *DigestGenerator) buildDigest(recipientID string, unread []models.Notification, now time.Time) *models.Notification {
	ids := make([]string, 0, len(unread))
	byCategory := make(map[string]int)
	for _, n := range unread {
		ids = append(ids, n.ID)
		byCategory[string(n.Category)]++
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Strings(categories)
	summary := make([]string, 0, len(categories))
	for _, c := range categories {
		summary = append(summary, fmt.Sprintf("%s: %d", c, byCategory[c]))
	}
	categoryLine := strings.Join(summary, ", ")

	localized := make(map[string]models.LocalizedContent, len(digestCopies))
	for locale, dc := range digestCopies {
		localized[locale] = models.LocalizedContent{
			Title:   dc.title,
			Message: dc.message(len(unread), categoryLine),
		}
	}
	english := localized["en"]

	return &models.Notification{
		ID:          utils.GenerateUUID(),
		RecipientID: recipientID,
		Type:        models.NotificationDailyDigest,
		Category:    models.CategorySystem,
		Priority:    models.PriorityLow,
		Title:       english.Title,
		Message:     english.Message,
		Data: map[string]interface{}{
			"count":           len(unread),
			"notificationIds": ids,
			"byCategory":      byCategory,
		},
		Localized: localized,
		DeliveryMethods: models.DeliveryMethods{
			Push:  models.ChannelStatus{Enabled: true},
			Email: models.ChannelStatus{Enabled: true},
			SMS:   models.ChannelStatus{Enabled: false},
			InApp: models.ChannelStatus{Enabled: true},
		},
		ExpiresAt: now.Add(g.ttl),
		Status:    models.StatusScheduled,
		Source:    models.Source{Type: "system", Automated: true},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
