package main

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/mail"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campusadmin/core"
	"github.com/trezcool/campusadmin/core/user"
)

// export writes the users matching `search` as CSV to `out`, and mails the file to `mailTo` if set.
func (cli *commandLine) export(ctx context.Context, out, search, mailTo string) error {
	var rcpt *mail.Address
	if mailTo != "" {
		addr, err := mail.ParseAddress(mailTo)
		if err != nil {
			return errors.Wrap(err, "parsing -mailto")
		}
		rcpt = addr
	}

	filter := &user.QueryFilter{Search: search}
	filter.Clean()

	var csvData bytes.Buffer
	if err := cli.usrSvc.ExportCSV(ctx, &csvData, filter, nil); err != nil {
		return err
	}

	filename := user.ExportFilename(time.Now())
	switch out {
	case "-":
		_, _ = cli.stdout.Write(csvData.Bytes())
	default:
		if out == "" {
			out = filename
		}
		if err := ioutil.WriteFile(out, csvData.Bytes(), 0o644); err != nil {
			return errors.Wrap(err, "writing export file")
		}
		filename = filepath.Base(out)
		_, _ = fmt.Fprintln(cli.stdout, "exported to "+out)
	}

	if rcpt == nil {
		return nil
	}
	msg := &core.EmailMessage{
		To:      []mail.Address{*rcpt},
		Subject: "Users export",
		BodyStr: "The users export is attached: " + filename,
	}
	if err := msg.Attach(&csvData, filename, "text/csv"); err != nil {
		return errors.Wrap(err, "attaching export")
	}
	cli.mailSvc.SendMessages(msg)
	_, _ = fmt.Fprintln(cli.stdout, "mailed to "+rcpt.Address)
	return nil
}
