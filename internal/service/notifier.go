package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/hitobito/hitobito-sac-cas-sub005/internal/config"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/domain"
	"github.com/hitobito/hitobito-sac-cas-sub005/internal/logger"
)

var ErrNoTemplate = errors.New("no template configured")

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendGridNotifier sends notifications as SendGrid dynamic template mails.
// Template keys map to template ids through configuration.
type SendGridNotifier struct {
	client    mailSender
	fromEmail string
	fromName  string
	templates map[string]string
}

func NewSendGridNotifier(cfg config.SendGridConfig) *SendGridNotifier {
	return &SendGridNotifier{
		client:    sendgrid.NewSendClient(cfg.APIKey),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
		templates: cfg.Templates,
	}
}

func (n *SendGridNotifier) Send(ctx context.Context, templateKey string, recipient *domain.Person, data map[string]any) error {
	templateID, ok := n.templates[templateKey]
	if !ok {
		return fmt.Errorf("%s: %w", templateKey, ErrNoTemplate)
	}
	if recipient.Email == "" {
		logger.Debug("Skipping notification without email", "template", templateKey, "person_id", recipient.ID)
		return nil
	}

	message := mail.NewV3Mail()
	message.SetFrom(mail.NewEmail(n.fromName, n.fromEmail))
	message.SetTemplateID(templateID)

	personalization := mail.NewPersonalization()
	personalization.AddTos(mail.NewEmail(recipient.FullName(), recipient.Email))
	for key, value := range data {
		personalization.SetDynamicTemplateData(key, value)
	}
	message.AddPersonalizations(personalization)

	logger.ExternalServiceCall("sendgrid", "Send", "template", templateKey, "person_id", recipient.ID)
	response, err := n.client.SendWithContext(ctx, message)
	if err == nil && response.StatusCode >= 400 {
		err = fmt.Errorf("sendgrid error: status %d, body: %s", response.StatusCode, response.Body)
	}
	logger.ExternalServiceResult("sendgrid", "Send", err, "template", templateKey, "person_id", recipient.ID)
	if err != nil {
		return fmt.Errorf("failed to send template email: %w", err)
	}
	return nil
}

type notification struct {
	templateKey string
	recipient   domain.Person
	data        map[string]any
}

// AsyncNotifier queues notifications and sends them from a worker goroutine so
// callers never wait on the mail provider. A full queue drops the
// notification with a warning.
type AsyncNotifier struct {
	next  Notifier
	queue chan notification
	wg    sync.WaitGroup
	once  sync.Once
}

func NewAsyncNotifier(next Notifier, size int) *AsyncNotifier {
	a := &AsyncNotifier{next: next, queue: make(chan notification, size)}
	a.wg.Add(1)
	go a.run()
	return a
}

func (a *AsyncNotifier) run() {
	defer a.wg.Done()
	for n := range a.queue {
		if err := a.next.Send(context.Background(), n.templateKey, &n.recipient, n.data); err != nil {
			logger.Warn("Failed to deliver notification", "template", n.templateKey, "person_id", n.recipient.ID, "error", err)
		}
	}
}

func (a *AsyncNotifier) Send(_ context.Context, templateKey string, recipient *domain.Person, data map[string]any) error {
	select {
	case a.queue <- notification{templateKey: templateKey, recipient: *recipient, data: data}:
		return nil
	default:
		logger.Warn("Notification queue full, dropping", "template", templateKey, "person_id", recipient.ID)
		return nil
	}
}

// Close stops accepting notifications and waits until the queue is drained.
// Send must not be called afterwards.
func (a *AsyncNotifier) Close() {
	a.once.Do(func() { close(a.queue) })
	a.wg.Wait()
}

// LogNotifier only logs notifications. Used when no mail provider is
// configured.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, templateKey string, recipient *domain.Person, data map[string]any) error {
	logger.Info("Notification", "template", templateKey, "person_id", recipient.ID, "email", recipient.Email, "data", data)
	return nil
}
