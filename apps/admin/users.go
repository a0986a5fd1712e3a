package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campusadmin/core"
	"github.com/trezcool/campusadmin/core/user"
)

func (cli *commandLine) verify(ctx context.Context, uids []string, verified bool) error {
	if err := cli.usrSvc.BulkSetVerified(ctx, uids, verified); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.stdout, "%d user(s): is_verified=%t\n", len(uids), verified)
	return nil
}

func (cli *commandLine) deleteUsers(ctx context.Context, uids []string, confirmed bool) error {
	if !confirmed {
		ok, err := cli.confirm(fmt.Sprintf("Delete %d user(s)? This cannot be undone.", len(uids)))
		if err != nil {
			return err
		}
		if !ok {
			return errAborted
		}
	}
	if err := cli.usrSvc.BulkDelete(ctx, uids); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cli.stdout, "%d user(s) deleted\n", len(uids))
	return nil
}

// confirm asks a yes/no question on the terminal. Anything but y|yes is a no.
func (cli *commandLine) confirm(question string) (bool, error) {
	if !isTerminalFunc(cli.stdinFd) {
		return false, errNoConfirm
	}
	_, _ = fmt.Fprintf(cli.stdout, "%s [y/N]: ", question)
	answer, err := bufio.NewReader(cli.stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}

// addUser creates a user profile. The account of the authentication service is not created.
func (cli *commandLine) addUser(ctx context.Context, nu user.NewUser) error {
	if err := nu.Validate(ctx, cli.validate, cli.usrSvc); err != nil {
		if vErrs, ok := err.(validator.ValidationErrors); ok {
			return fmt.Errorf("invalid user: %v", core.TranslateErrors(vErrs, cli.translator))
		}
		return err
	}
	prof, err := cli.usrSvc.Create(ctx, nu)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(cli.stdout, prof.UID)
	return nil
}
