package testutil

import (
	"context"
	"io/ioutil"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/trezcool/campusadmin/core"
	"github.com/trezcool/campusadmin/core/user"
	logsvc "github.com/trezcool/campusadmin/services/logger"
	"github.com/trezcool/campusadmin/storage/database"
)

// NewConfig returns the configuration used by tests: test mode on, debug off.
func NewConfig() *core.Config {
	conf := core.NewConfig()
	conf.Debug = false
	conf.TestMode = true
	conf.Server.DisableReqLogs = true
	conf.Console.BulkConcurrency = 4
	conf.Console.NotifyOnVerify = true
	conf.Console.AcademicYears = []string{"1ère Année", "2ème Année", "3ème Année"}
	return conf
}

// NewLogger returns a logger that neither prints nor reports.
func NewLogger(conf *core.Config) core.Logger {
	logger := logsvc.NewRollbarLogger(log.New(ioutil.Discard, "TEST : ", 0), conf)
	logger.Enable(false)
	return logger
}

// PrepareDB connects to the database at TEST_MONGO_URI, and drops it when the test ends.
// The test is skipped when TEST_MONGO_URI is not set.
func PrepareDB(t *testing.T) *mongo.Database {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set")
	}

	conf := NewConfig()
	conf.Database.URI = uri
	conf.Database.Name = "test_" + uuid.New().String()[:8]
	db, err := database.Open(conf)
	if err != nil {
		t.Fatalf("database.Open() failed: %v", err)
	}
	ctx := context.Background()
	if err = database.EnsureIndexes(ctx, db); err != nil {
		t.Fatalf("database.EnsureIndexes() failed: %v", err)
	}

	t.Cleanup(func() {
		if err := database.Drop(ctx, db); err != nil {
			t.Errorf("database.Drop() failed: %v", err)
		}
		_ = database.Close(ctx, db)
	})
	return db
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, email, matricule string,
	isVerified bool,
	createdAt ...time.Time,
) user.User {
	tstamp := time.Now().UTC().Truncate(time.Millisecond)
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC().Truncate(time.Millisecond)
	}
	usr := user.User{
		UID:        uuid.New().String(),
		FullName:   name,
		Email:      email,
		CreatedAt:  tstamp,
		IsVerified: isVerified,
	}
	if matricule != "" {
		usr.Matricule = &matricule
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("createUser() failed: %v", err)
	}
	return usr
}

func MakeAdmin(t *testing.T, repo user.AdminRepository, usr user.User) user.Profile {
	if err := repo.GrantAdmin(context.Background(), usr.UID); err != nil {
		t.Fatalf("makeAdmin() failed: %v", err)
	}
	return user.Profile{User: usr, IsAdmin: true}
}
