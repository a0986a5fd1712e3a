package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/trezcool/campusadmin/core"
	"github.com/trezcool/campusadmin/core/user"
	emailsvc "github.com/trezcool/campusadmin/services/email"
	logsvc "github.com/trezcool/campusadmin/services/logger"
	"github.com/trezcool/campusadmin/storage/database"
	mongorepos "github.com/trezcool/campusadmin/storage/database/mongo"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug && conf.RollbarToken != "")

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug || conf.SendgridApiKey == "" {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	core.ParseEmailTemplates(conf, logger)

	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator, conf.Console.AcademicYears)

	// start CLI
	cli := commandLine{
		conf: conf,
		usrSvc: user.NewService(
			mongorepos.NewUserRepository(db), mongorepos.NewAdminRepository(db), mailSvc, conf,
		),
		mailSvc:    mailSvc,
		validate:   validate,
		translator: translator,
		ensureIndexes: func(ctx context.Context) error {
			return database.EnsureIndexes(ctx, db)
		},
		stdin:   os.Stdin,
		stdinFd: int(os.Stdin.Fd()),
		stdout:  os.Stdout,
	}
	err = cli.run(os.Args)

	// wait for the mails of `verify` and `export -mailto`
	if w, ok := mailSvc.(interface{ Wait() }); ok {
		w.Wait()
	}
	_ = database.Close(context.Background(), db)
	logger.Flush()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
			logger.Flush()
		}
		os.Exit(1)
	}
}
