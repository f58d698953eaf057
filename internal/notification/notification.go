// Package notification sends email alerts to facility staff when a
// visitor escalates to live support. Delivery is fire-and-forget from
// the chat flow's point of view and rate limited per session so a
// flapping client cannot flood the staff inbox.
package notification

import (
	"fmt"
	"html"
	"sync"
	"time"

	"go.uber.org/zap"
	gomail "gopkg.in/gomail.v2"

	"github.com/silverpines/supportchat/internal/constants"
	"github.com/silverpines/supportchat/internal/util"
)

// Config carries the SMTP and recipient settings for staff alerts
type Config struct {
	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
	FromAddress string
	StaffEmails []string
	ConsoleURL  string // staff console URL for escalation links, optional
}

// Enabled reports whether enough configuration is present to send mail
func (c Config) Enabled() bool {
	return c.SMTPHost != "" && len(c.StaffEmails) > 0
}

// Sender abstracts the SMTP dialer so tests can capture messages
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// NotificationService sends escalation alerts to staff
type NotificationService struct {
	sender      Sender
	config      Config
	logger      *zap.SugaredLogger
	rateLimiter *RateLimiter
	sendTimeout time.Duration
	mu          sync.RWMutex
}

// RateLimiter prevents notification flooding
type RateLimiter struct {
	events map[string][]time.Time
	window time.Duration
	limit  int
	mu     sync.RWMutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(window time.Duration, limit int) *RateLimiter {
	return &RateLimiter{
		events: make(map[string][]time.Time),
		window: window,
		limit:  limit,
	}
}

// Allow checks if an event is allowed based on rate limiting
func (rl *RateLimiter) Allow(eventKey string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rl.window)

	// Cap map growth: reject new keys when at capacity
	const maxTrackedEvents = 100000
	events := rl.events[eventKey]
	if events == nil && len(rl.events) >= maxTrackedEvents {
		return false
	}

	// Filter out old events
	var recentEvents []time.Time
	for _, t := range events {
		if t.After(cutoff) {
			recentEvents = append(recentEvents, t)
		}
	}

	// Remove keys with no recent events to prevent unbounded map growth
	if len(recentEvents) == 0 && len(events) > 0 {
		delete(rl.events, eventKey)
	}

	if len(recentEvents) >= rl.limit {
		rl.events[eventKey] = recentEvents
		return false
	}

	recentEvents = append(recentEvents, now)
	rl.events[eventKey] = recentEvents

	return true
}

// NewNotificationService creates a notification service. When the
// config is incomplete the service is created in disabled mode and
// every send is a logged no-op.
func NewNotificationService(cfg Config, logger *zap.SugaredLogger) *NotificationService {
	nsLogger := logger.Named("notification")

	var sender Sender
	if cfg.Enabled() {
		sender = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
	} else {
		nsLogger.Warnw("email alerts not configured, escalation emails will be skipped")
	}

	// Max 3 alerts per 5 minutes per session
	rateLimiter := NewRateLimiter(5*time.Minute, 3)

	return &NotificationService{
		sender:      sender,
		config:      cfg,
		logger:      nsLogger,
		rateLimiter: rateLimiter,
		sendTimeout: constants.NotifySendTimeout,
	}
}

// NewNotificationServiceWithSender creates a service with a custom
// sender, for testing.
func NewNotificationServiceWithSender(cfg Config, sender Sender, logger *zap.SugaredLogger) *NotificationService {
	ns := NewNotificationService(cfg, logger)
	ns.sender = sender
	return ns
}

// Enabled reports whether the service will actually send mail.
func (ns *NotificationService) Enabled() bool {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.sender != nil
}

// SendEscalationAlert emails staff when a visitor requests live support
func (ns *NotificationService) SendEscalationAlert(userID, sessionID, initialMessage string) error {
	if ns.sender == nil {
		return nil
	}

	eventKey := fmt.Sprintf("escalation:%s", sessionID)
	// No else needed: rate limited sends are skipped, not errors
	if !ns.rateLimiter.Allow(eventKey) {
		ns.logger.Warnw("escalation alert rate limited",
			"sessionId", sessionID)
		return nil
	}

	m := gomail.NewMessage()
	m.SetHeader("From", ns.config.FromAddress)
	m.SetHeader("To", ns.config.StaffEmails...)
	m.SetHeader("Subject", fmt.Sprintf("Support request from visitor %s", userID))
	m.SetBody("text/html", buildEscalationHTML(userID, sessionID, initialMessage, ns.config.ConsoleURL))
	m.AddAlternative("text/plain", fmt.Sprintf(
		"Support request - Visitor: %s, Session: %s, Message: %s, Time: %s",
		userID, sessionID, initialMessage, time.Now().Format(time.RFC3339)))

	// gomail has no context support, so bound the dial with a deadline
	// and abandon the goroutine if the SMTP server hangs.
	ctx, cancel := util.NewTimeoutContext(ns.sendTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- ns.sender.DialAndSend(m)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			util.LogError(ns.logger, "notification", "send escalation alert", err,
				"sessionId", sessionID)
			return fmt.Errorf("failed to send email: %w", err)
		}
	case <-ctx.Done():
		util.LogError(ns.logger, "notification", "send escalation alert", ctx.Err(),
			"sessionId", sessionID)
		return fmt.Errorf("failed to send email: %w", ctx.Err())
	}

	ns.logger.Infow("escalation alert sent",
		"sessionId", sessionID,
		"recipients", len(ns.config.StaffEmails))

	return nil
}

// buildEscalationHTML builds the HTML body for escalation alert emails.
// If consoleURL is empty, no link is rendered.
func buildEscalationHTML(userID, sessionID, initialMessage, consoleURL string) string {
	timestamp := time.Now().Format(time.RFC3339)
	safeUserID := html.EscapeString(userID)
	safeSessionID := html.EscapeString(sessionID)
	safeMessage := html.EscapeString(initialMessage)
	linkSection := "<p>Please open the staff console to claim this conversation.</p>"
	if consoleURL != "" {
		safeConsoleURL := html.EscapeString(consoleURL)
		linkSection = fmt.Sprintf(`<p><a href="%s/%s">Open conversation</a></p>`, safeConsoleURL, safeSessionID)
	}
	return fmt.Sprintf(`
		<h2>Visitor Support Request</h2>
		<p>A visitor has asked to speak with a staff member.</p>
		<ul>
			<li><strong>Visitor:</strong> %s</li>
			<li><strong>Session:</strong> %s</li>
			<li><strong>Message:</strong> %s</li>
			<li><strong>Time:</strong> %s</li>
		</ul>
		%s
	`, safeUserID, safeSessionID, safeMessage, timestamp, linkSection)
}
