package emailsvc

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campusadmin/core"
)

// outbox keeps what the console services delivered, so tests can inspect it.
var outbox struct {
	sync.Mutex
	messages []core.EmailMessage
}

// ResetSentMessages empties the outbox.
func ResetSentMessages() {
	outbox.Lock()
	outbox.messages = nil
	outbox.Unlock()
}

// SentMessagesCopy returns the delivered messages, oldest first.
func SentMessagesCopy() []core.EmailMessage {
	outbox.Lock()
	defer outbox.Unlock()
	return append([]core.EmailMessage(nil), outbox.messages...)
}

// consoleService prints the messages as MIME documents instead of sending them.
type consoleService struct {
	from    mail.Address
	prefix  string
	logger  core.Logger
	async   bool
	pending *sync.WaitGroup

	outMu *sync.Mutex
	out   io.Writer
}

var _ core.EmailService = (*consoleService)(nil)

func NewConsoleService(conf *core.Config, logger core.Logger) core.EmailService {
	return &consoleService{
		from:    conf.DefaultFromEmail(),
		prefix:  "[" + conf.AppName + "] ",
		logger:  logger,
		async:   true,
		pending: new(sync.WaitGroup),
		outMu:   new(sync.Mutex),
		out:     os.Stdout,
	}
}

// NewConsoleServiceMock delivers synchronously and prints nothing.
func NewConsoleServiceMock(conf *core.Config, logger core.Logger) core.EmailService {
	return &consoleService{
		from:    conf.DefaultFromEmail(),
		prefix:  "[" + conf.AppName + "] ",
		logger:  logger,
		pending: new(sync.WaitGroup),
		outMu:   new(sync.Mutex),
		out:     io.Discard,
	}
}

func (svc *consoleService) SendMessages(messages ...*core.EmailMessage) {
	for _, msg := range messages {
		if !svc.async {
			svc.deliver(msg)
			continue
		}
		svc.pending.Add(1)
		go func(msg *core.EmailMessage) {
			defer svc.pending.Done()
			svc.deliver(msg)
		}(msg)
	}
}

// Wait blocks until the pending messages are printed.
func (svc *consoleService) Wait() {
	svc.pending.Wait()
}

// deliver drops the message, with an error log, if it cannot be rendered.
func (svc *consoleService) deliver(msg *core.EmailMessage) {
	if err := msg.Render(); err != nil {
		svc.logger.Error(fmt.Sprintf("email %q dropped: %v", msg.Subject, err), err)
		return
	}
	if !msg.HasRecipients() || !(msg.HasContent() || msg.HasAttachments()) {
		return
	}

	var doc bytes.Buffer
	if err := svc.writeMIME(&doc, msg); err != nil {
		svc.logger.Error(fmt.Sprintf("email %q dropped: %v", msg.Subject, err), err)
		return
	}
	svc.outMu.Lock()
	_, _ = doc.WriteTo(svc.out)
	svc.outMu.Unlock()

	outbox.Lock()
	outbox.messages = append(outbox.messages, *msg)
	outbox.Unlock()
}

func (svc *consoleService) writeMIME(w io.Writer, msg *core.EmailMessage) error {
	to := make([]string, 0, len(msg.To))
	for _, addr := range msg.To {
		to = append(to, addr.String())
	}

	mw := multipart.NewWriter(w)
	head := []string{
		"From: " + svc.from.String(),
		"To: " + strings.Join(to, ", "),
		"Subject: " + mime.QEncoding.Encode("utf-8", svc.prefix+msg.Subject),
		"Date: " + time.Now().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: " + mime.FormatMediaType("multipart/mixed", map[string]string{"boundary": mw.Boundary()}),
	}
	if _, err := io.WriteString(w, strings.Join(head, "\r\n")+"\r\n\r\n"); err != nil {
		return errors.Wrap(err, "writing headers")
	}

	part := func(hdr textproto.MIMEHeader, body string) error {
		pw, err := mw.CreatePart(hdr)
		if err != nil {
			return errors.Wrap(err, "creating "+hdr.Get("Content-Type")+" part")
		}
		_, err = io.WriteString(pw, body+"\r\n")
		return err
	}

	if msg.TextContent != "" {
		if err := part(textproto.MIMEHeader{"Content-Type": {"text/plain; charset=utf-8"}}, msg.TextContent); err != nil {
			return err
		}
	}
	if msg.HTMLContent != "" {
		if err := part(textproto.MIMEHeader{"Content-Type": {"text/html; charset=utf-8"}}, msg.HTMLContent); err != nil {
			return err
		}
	}
	for _, at := range msg.Attachments {
		hdr := textproto.MIMEHeader{
			"Content-Type":              {at.ContentType},
			"Content-Transfer-Encoding": {"base64"},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": at.Filename})},
		}
		if err := part(hdr, at.Content.String()); err != nil {
			return err
		}
	}
	return mw.Close()
}
