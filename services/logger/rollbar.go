package logsvc

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/campusadmin/core"
	"github.com/trezcool/campusadmin/core/user"
)

// RollbarLogger reports to Rollbar and mirrors every entry to a std logger.
// Reports are dropped while Rollbar is disabled; the mirror always writes.
type RollbarLogger struct {
	std  *log.Logger
	exit func(code int)
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	return &RollbarLogger{std: std, exit: os.Exit}
}

func (l *RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Flush waits for the queued reports to be sent.
func (l *RollbarLogger) Flush() {
	rollbar.Wait()
}

func (l *RollbarLogger) Debug(msg string, args ...interface{}) { l.log(rollbar.DEBUG, msg, args) }
func (l *RollbarLogger) Info(msg string, args ...interface{})  { l.log(rollbar.INFO, msg, args) }
func (l *RollbarLogger) Warn(msg string, args ...interface{})  { l.log(rollbar.WARN, msg, args) }
func (l *RollbarLogger) Error(msg string, args ...interface{}) { l.log(rollbar.ERR, msg, args) }

// Fatal reports, waits for the report to leave, then exits with status 1.
func (l *RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.log(rollbar.CRIT, msg, args)
	rollbar.Wait()
	l.exit(1)
}

func (l *RollbarLogger) log(level, msg string, args []interface{}) {
	operator, extras := splitArgs(args)
	if operator != nil {
		rollbar.SetPerson(operator.UID, operator.FullName, operator.Email)
	} else {
		rollbar.ClearPerson()
	}
	rollbar.Log(level, append([]interface{}{msg}, extras...)...)

	line := strings.ToUpper(level) + " " + msg
	for _, extra := range extras {
		line += fmt.Sprintf("\n\t%+v", extra)
	}
	_ = l.std.Output(3, line)
}

// splitArgs takes the operator (the first user.Profile or user.User) out of args.
func splitArgs(args []interface{}) (*user.User, []interface{}) {
	var operator *user.User
	extras := make([]interface{}, 0, len(args))
	for _, arg := range args {
		var usr user.User
		switch a := arg.(type) {
		case user.Profile:
			usr = a.User
		case user.User:
			usr = a
		default:
			extras = append(extras, arg)
			continue
		}
		if operator == nil {
			operator = &usr
		}
	}
	return operator, extras
}
