package mongorepos

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/trezcool/campusadmin/core"
)

// wrapErr annotates err with msg.
// A disconnected client never recovers, so that error becomes a shutdown request.
func wrapErr(err error, msg string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrClientDisconnected) {
		return core.NewShutdownError(msg + ": " + err.Error())
	}
	return errors.Wrap(err, msg)
}
