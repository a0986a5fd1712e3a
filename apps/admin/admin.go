package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	echoapi "github.com/trezcool/campusadmin/apps/api/echo"
)

// setAdmin grants or revokes admin status.
func (cli *commandLine) setAdmin(ctx context.Context, uid string, isAdmin bool) error {
	if _, err := cli.usrSvc.SetAdmin(ctx, uid, isAdmin); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.stdout, "%s: is_admin=%t\n", uid, isAdmin)
	return nil
}

// printToken prints a signed API token for an admin.
func (cli *commandLine) printToken(ctx context.Context, uid string) error {
	prof, err := cli.usrSvc.Get(ctx, uid)
	if err != nil {
		return err
	}
	if !prof.IsAdmin {
		return errNotAdmin
	}
	token, err := echoapi.GenerateToken(echoapi.GetUserClaims(prof.User, cli.conf), cli.conf)
	if err != nil {
		return errors.Wrap(err, "generating token")
	}
	_, _ = fmt.Fprintln(cli.stdout, token)
	return nil
}
