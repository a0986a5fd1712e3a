package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"golang.org/x/term"

	"github.com/trezcool/campusadmin/core"
	"github.com/trezcool/campusadmin/core/user"
)

var (
	isTerminalFunc = term.IsTerminal // mockable

	errHelp      = errors.New("help provided")
	errAborted   = errors.New("aborted")
	errNotAdmin  = errors.New("user is not an admin")
	errNoConfirm = errors.New("not a terminal: pass -yes to confirm")
)

type commandLine struct {
	conf          *core.Config
	usrSvc        user.ServiceInterface
	mailSvc       core.EmailService
	validate      *validator.Validate
	translator    ut.Translator
	ensureIndexes func(ctx context.Context) error
	stdin         io.Reader
	stdinFd       int
	stdout        io.Writer
}

func (cli *commandLine) printUsage() {
	_, _ = fmt.Fprintln(cli.stdout, "Usage:")
	_, _ = fmt.Fprintln(cli.stdout, "  indexes                                        - create the database indexes")
	_, _ = fmt.Fprintln(cli.stdout, "  makeadmin -uid UID                             - grant admin status")
	_, _ = fmt.Fprintln(cli.stdout, "  removeadmin -uid UID                           - revoke admin status")
	_, _ = fmt.Fprintln(cli.stdout, "  verify -uid UID[,UID...] [-unverify]           - set verified status")
	_, _ = fmt.Fprintln(cli.stdout, "  deleteusers -uid UID[,UID...] [-yes]           - delete users (asks confirmation)")
	_, _ = fmt.Fprintln(cli.stdout, "  export [-o FILE] [-search Q] [-mailto EMAIL]   - export users as CSV")
	_, _ = fmt.Fprintln(cli.stdout, "  adduser -name NAME -email EMAIL [-matricule M] - create a user profile")
	_, _ = fmt.Fprintln(cli.stdout, "  token -uid UID                                 - print an API token for an admin")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	newFlagSet := func(name string) *flag.FlagSet {
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		fs.SetOutput(cli.stdout)
		return fs
	}

	makeAdminCmd := newFlagSet("makeadmin")
	makeAdminUID := makeAdminCmd.String("uid", "", "The user's ID.")

	removeAdminCmd := newFlagSet("removeadmin")
	removeAdminUID := removeAdminCmd.String("uid", "", "The user's ID.")

	verifyCmd := newFlagSet("verify")
	verifyUIDs := verifyCmd.String("uid", "", "Comma separated user IDs.")
	verifyUnverify := verifyCmd.Bool("unverify", false, "Unverify instead.")

	deleteCmd := newFlagSet("deleteusers")
	deleteUIDs := deleteCmd.String("uid", "", "Comma separated user IDs.")
	deleteYes := deleteCmd.Bool("yes", false, "Do not ask for confirmation.")

	exportCmd := newFlagSet("export")
	exportOut := exportCmd.String("o", "", "Output file. Defaults to users_export_<timestamp>.csv; `-` writes to stdout.")
	exportSearch := exportCmd.String("search", "", "Only export users matching this keyword.")
	exportMailTo := exportCmd.String("mailto", "", "Also email the export to this address.")

	addUserCmd := newFlagSet("adduser")
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserMatricule := addUserCmd.String("matricule", "", "The user's matricule.")

	tokenCmd := newFlagSet("token")
	tokenUID := tokenCmd.String("uid", "", "The admin's ID.")

	ctx := context.Background()

	switch args[1] {
	case "indexes":
		return cli.ensureIndexes(ctx)

	case "makeadmin", "removeadmin":
		cmd, uid := makeAdminCmd, makeAdminUID
		if args[1] == "removeadmin" {
			cmd, uid = removeAdminCmd, removeAdminUID
		}
		if err := cmd.Parse(args[2:]); err != nil {
			return err
		}
		if *uid == "" {
			cmd.Usage()
			return errHelp
		}
		return cli.setAdmin(ctx, *uid, args[1] == "makeadmin")

	case "verify":
		if err := verifyCmd.Parse(args[2:]); err != nil {
			return err
		}
		uids := splitIDs(*verifyUIDs)
		if len(uids) == 0 {
			verifyCmd.Usage()
			return errHelp
		}
		return cli.verify(ctx, uids, !*verifyUnverify)

	case "deleteusers":
		if err := deleteCmd.Parse(args[2:]); err != nil {
			return err
		}
		uids := splitIDs(*deleteUIDs)
		if len(uids) == 0 {
			deleteCmd.Usage()
			return errHelp
		}
		return cli.deleteUsers(ctx, uids, *deleteYes)

	case "export":
		if err := exportCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.export(ctx, *exportOut, *exportSearch, *exportMailTo)

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserName == "" || *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(ctx, user.NewUser{FullName: *addUserName, Email: *addUserEmail, Matricule: *addUserMatricule})

	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenUID == "" {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.printToken(ctx, *tokenUID)

	default:
		cli.printUsage()
		return errHelp
	}
}

func splitIDs(s string) []string {
	ids := make([]string, 0)
	for _, id := range strings.Split(s, ",") {
		if id = core.CleanString(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
