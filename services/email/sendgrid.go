package emailsvc

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"

	"github.com/trezcool/campusadmin/core"
)

// sendgridService delivers the messages through the SendGrid v3 API, one request per message.
type sendgridService struct {
	client  *sendgrid.Client
	from    *sgmail.Email
	prefix  string
	logger  core.Logger
	pending *sync.WaitGroup
}

var _ core.EmailService = (*sendgridService)(nil)

func NewSendgridService(conf *core.Config, logger core.Logger) *sendgridService {
	from := conf.DefaultFromEmail()
	return &sendgridService{
		client:  sendgrid.NewSendClient(conf.SendgridApiKey),
		from:    sgmail.NewEmail(from.Name, from.Address),
		prefix:  "[" + conf.AppName + "] ",
		logger:  logger,
		pending: new(sync.WaitGroup),
	}
}

func (svc *sendgridService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		svc.pending.Add(1)
		go func(msg *core.EmailMessage) {
			defer svc.pending.Done()
			if err := svc.deliver(msg); err != nil {
				svc.logger.Error(fmt.Sprintf("email %q dropped: %v", msg.Subject, err), err)
			}
		}(msg)
	}
}

// Wait blocks until the pending messages are handed over to SendGrid.
func (svc *sendgridService) Wait() {
	svc.pending.Wait()
}

func (svc *sendgridService) deliver(msg *core.EmailMessage) error {
	if err := msg.Render(); err != nil {
		return err
	}
	if !msg.HasRecipients() || !(msg.HasContent() || msg.HasAttachments()) {
		return nil
	}

	res, err := svc.client.Send(svc.build(msg))
	if err != nil {
		return errors.Wrap(err, "calling sendgrid")
	}
	if res.StatusCode >= http.StatusBadRequest {
		return errors.Errorf("sendgrid replied %d: %s", res.StatusCode, res.Body)
	}
	return nil
}

func (svc *sendgridService) build(msg *core.EmailMessage) *sgmail.SGMailV3 {
	p := sgmail.NewPersonalization()
	for _, addr := range msg.To {
		p.AddTos(sgmail.NewEmail(addr.Name, addr.Address))
	}

	m := sgmail.NewV3Mail()
	m.SetFrom(svc.from)
	m.Subject = svc.prefix + msg.Subject
	m.AddPersonalizations(p)

	// SendGrid wants text/plain before text/html
	if msg.TextContent != "" {
		m.AddContent(sgmail.NewContent("text/plain", msg.TextContent))
	}
	if msg.HTMLContent != "" {
		m.AddContent(sgmail.NewContent("text/html", msg.HTMLContent))
	}
	for _, at := range msg.Attachments {
		m.AddAttachment(sgmail.NewAttachment().
			SetContent(at.Content.String()).
			SetType(at.ContentType).
			SetFilename(at.Filename).
			SetDisposition("attachment"))
	}
	return m
}
