package inmemdb

import (
	"sync"
	"time"

	"github.com/trezcool/campusadmin/core/user"
)

type (
	// DB is a process-local stand-in for the users & admins collections.
	DB struct {
		user  *userTable
		admin *adminTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	adminTable struct {
		sync.RWMutex
		table map[string]time.Time // {uid: grantedAt}
	}
)

func Open() *DB {
	return &DB{
		user:  &userTable{table: make(map[string]*user.User)},
		admin: &adminTable{table: make(map[string]time.Time)},
	}
}
