package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/campusadmin/apps/api/echo"
	"github.com/trezcool/campusadmin/core"
	"github.com/trezcool/campusadmin/core/user"
	emailsvc "github.com/trezcool/campusadmin/services/email"
	inmemdb "github.com/trezcool/campusadmin/storage/database/inmem"
	testutil "github.com/trezcool/campusadmin/tests"
)

var (
	conf      *core.Config
	usrRepo   user.Repository
	adminRepo user.AdminRepository
)

func TestMain(m *testing.M) {
	conf = testutil.NewConfig()
	core.ParseEmailTemplates(conf, testutil.NewLogger(conf))
	os.Exit(m.Run())
}

type testCLI struct {
	*commandLine
	out           *bytes.Buffer
	indexesCalled int
}

func setup(t *testing.T, stdin ...string) *testCLI {
	t.Helper()
	emailsvc.ResetSentMessages()

	// set up DB & repos
	db := inmemdb.Open()
	usrRepo = inmemdb.NewUserRepository(db)
	adminRepo = inmemdb.NewAdminRepository(db)

	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator, conf.Console.AcademicYears)

	// start CLI
	tc := &testCLI{out: new(bytes.Buffer)}
	mailSvc := emailsvc.NewConsoleServiceMock(conf, testutil.NewLogger(conf))
	tc.commandLine = &commandLine{
		conf:       conf,
		usrSvc:     user.NewService(usrRepo, adminRepo, mailSvc, conf),
		mailSvc:    mailSvc,
		validate:   validate,
		translator: translator,
		ensureIndexes: func(ctx context.Context) error {
			tc.indexesCalled++
			return nil
		},
		stdin:  strings.NewReader(strings.Join(stdin, "")),
		stdout: tc.out,
	}
	return tc
}

func mockTerminal(t *testing.T, isTerminal bool) {
	orig := isTerminalFunc
	isTerminalFunc = func(fd int) bool { return isTerminal }
	t.Cleanup(func() { isTerminalFunc = orig })
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
}

func runCLITests(t *testing.T, cli *testCLI, tests []cliTest) {
	t.Helper()
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			switch {
			case tt.wantErr != nil:
				assert.Equal(t, tt.wantErr, errors.Cause(err))
			case tt.wantErrStr != "":
				if assert.Error(t, err) {
					assert.Contains(t, err.Error(), tt.wantErrStr)
				}
			default:
				assert.NoError(t, err)
			}
		})
	}
}

func Test_commandLine_usage(t *testing.T) {
	cli := setup(t)
	runCLITests(t, cli, []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "unknown flag", args: []string{"makeadmin", "-lol"}, wantErrStr: "flag provided but not defined"},
	})
	assert.Contains(t, cli.out.String(), "Usage:")
}

func Test_commandLine_indexes(t *testing.T) {
	cli := setup(t)
	require.NoError(t, cli.run([]string{"admin", "indexes"}))
	assert.Equal(t, 1, cli.indexesCalled)
}

func Test_commandLine_admin(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, usrRepo, "Alice", "alice@test.cd", "", true)

	runCLITests(t, cli, []cliTest{
		{name: "makeadmin: no args", args: []string{"makeadmin"}, wantErr: errHelp},
		{name: "makeadmin: unknown user", args: []string{"makeadmin", "-uid", "lol"}, wantErr: user.ErrNotFound},
		{name: "makeadmin", args: []string{"makeadmin", "-uid", usr.UID}},
	})
	isAdmin, _ := adminRepo.IsAdmin(ctx, usr.UID)
	assert.True(t, isAdmin)

	runCLITests(t, cli, []cliTest{
		{name: "removeadmin: no args", args: []string{"removeadmin"}, wantErr: errHelp},
		{name: "removeadmin", args: []string{"removeadmin", "-uid", usr.UID}},
	})
	isAdmin, _ = adminRepo.IsAdmin(ctx, usr.UID)
	assert.False(t, isAdmin)
}

func Test_commandLine_verify(t *testing.T) {
	cli := setup(t)
	ctx := context.Background()
	alice := testutil.CreateUser(t, usrRepo, "Alice", "alice@test.cd", "", false)
	bob := testutil.CreateUser(t, usrRepo, "Bob", "bob@test.cd", "", false)

	runCLITests(t, cli, []cliTest{
		{name: "no args", args: []string{"verify"}, wantErr: errHelp},
		{name: "blank uids", args: []string{"verify", "-uid", " , "}, wantErr: errHelp},
		{name: "unknown user", args: []string{"verify", "-uid", "lol"}, wantErr: user.ErrNotFound},
		{name: "verify", args: []string{"verify", "-uid", alice.UID + ", " + bob.UID}},
	})
	for _, uid := range []string{alice.UID, bob.UID} {
		got, _ := usrRepo.GetUser(ctx, uid)
		assert.True(t, got.IsVerified)
	}
	assert.Len(t, emailsvc.SentMessagesCopy(), 2)

	require.NoError(t, cli.run([]string{"admin", "verify", "-uid", bob.UID, "-unverify"}))
	got, _ := usrRepo.GetUser(ctx, bob.UID)
	assert.False(t, got.IsVerified)
}

func Test_commandLine_deleteUsers(t *testing.T) {
	ctx := context.Background()

	t.Run("not a terminal", func(t *testing.T) {
		mockTerminal(t, false)
		cli := setup(t)
		usr := testutil.CreateUser(t, usrRepo, "Alice", "alice@test.cd", "", false)

		err := cli.run([]string{"admin", "deleteusers", "-uid", usr.UID})
		assert.Equal(t, errNoConfirm, err)
		_, err = usrRepo.GetUser(ctx, usr.UID)
		assert.NoError(t, err)

		require.NoError(t, cli.run([]string{"admin", "deleteusers", "-uid", usr.UID, "-yes"}))
		_, err = usrRepo.GetUser(ctx, usr.UID)
		assert.Equal(t, user.ErrNotFound, err)
	})

	t.Run("declined", func(t *testing.T) {
		mockTerminal(t, true)
		cli := setup(t, "n\n")
		usr := testutil.CreateUser(t, usrRepo, "Alice", "alice@test.cd", "", false)

		err := cli.run([]string{"admin", "deleteusers", "-uid", usr.UID})
		assert.Equal(t, errAborted, err)
		assert.Contains(t, cli.out.String(), "Delete 1 user(s)?")
		_, err = usrRepo.GetUser(ctx, usr.UID)
		assert.NoError(t, err)
	})

	t.Run("confirmed", func(t *testing.T) {
		mockTerminal(t, true)
		cli := setup(t, "Yes\n")
		alice := testutil.CreateUser(t, usrRepo, "Alice", "alice@test.cd", "", false)
		bob := testutil.CreateUser(t, usrRepo, "Bob", "bob@test.cd", "", false)
		testutil.MakeAdmin(t, adminRepo, bob)

		require.NoError(t, cli.run([]string{"admin", "deleteusers", "-uid", alice.UID + "," + bob.UID}))
		profiles, err := cli.usrSvc.Query(ctx, nil, nil)
		require.NoError(t, err)
		assert.Empty(t, profiles)
		isAdmin, _ := adminRepo.IsAdmin(ctx, bob.UID)
		assert.False(t, isAdmin)
	})

	t.Run("no args", func(t *testing.T) {
		cli := setup(t)
		assert.Equal(t, errHelp, cli.run([]string{"admin", "deleteusers"}))
	})
}

func Test_commandLine_export(t *testing.T) {
	cli := setup(t)
	alice := testutil.CreateUser(t, usrRepo, "Alice", "alice@test.cd", "", false)
	testutil.CreateUser(t, usrRepo, "Bob", "bob@univ.cd", "", false)

	t.Run("stdout", func(t *testing.T) {
		cli.out.Reset()
		require.NoError(t, cli.run([]string{"admin", "export", "-o", "-", "-search", "TEST.cd"}))
		records, err := csv.NewReader(cli.out).ReadAll()
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, alice.UID, records[1][0])
	})

	t.Run("file", func(t *testing.T) {
		out := filepath.Join(t.TempDir(), "users.csv")
		require.NoError(t, cli.run([]string{"admin", "export", "-o", out}))
		f, err := os.Open(out)
		require.NoError(t, err)
		defer f.Close()
		records, err := csv.NewReader(f).ReadAll()
		require.NoError(t, err)
		assert.Len(t, records, 3)
	})

	t.Run("mailto", func(t *testing.T) {
		emailsvc.ResetSentMessages()
		out := filepath.Join(t.TempDir(), "users.csv")
		require.NoError(t, cli.run([]string{"admin", "export", "-o", out, "-mailto", "Registrar <registrar@test.cd>"}))

		sent := emailsvc.SentMessagesCopy()
		require.Len(t, sent, 1)
		assert.Equal(t, "registrar@test.cd", sent[0].To[0].Address)
		require.Len(t, sent[0].Attachments, 1)
		at := sent[0].Attachments[0]
		assert.Equal(t, "users.csv", at.Filename)
		assert.Equal(t, "text/csv", at.ContentType)

		content, err := base64.StdEncoding.DecodeString(at.Content.String())
		require.NoError(t, err)
		written, err := os.ReadFile(out)
		require.NoError(t, err)
		assert.Equal(t, written, content)
	})

	t.Run("invalid mailto", func(t *testing.T) {
		emailsvc.ResetSentMessages()
		err := cli.run([]string{"admin", "export", "-o", "-", "-mailto", "lol"})
		if assert.Error(t, err) {
			assert.Contains(t, err.Error(), "parsing -mailto")
		}
		assert.Empty(t, emailsvc.SentMessagesCopy())
	})
}

func Test_commandLine_addUser(t *testing.T) {
	cli := setup(t)
	testutil.CreateUser(t, usrRepo, "Bob", "bob@test.cd", "", false)

	runCLITests(t, cli, []cliTest{
		{name: "no args", args: []string{"adduser"}, wantErr: errHelp},
		{name: "no email", args: []string{"adduser", "-name", "Alice"}, wantErr: errHelp},
		{
			name: "invalid email", args: []string{"adduser", "-name", "Alice", "-email", "lol"},
			wantErrStr: "enter a valid email address",
		},
		{
			name: "email taken", args: []string{"adduser", "-name", "Bobby", "-email", "BOB@test.cd"},
			wantErrStr: user.ErrEmailExists.Error(),
		},
	})

	cli.out.Reset()
	require.NoError(t, cli.run([]string{"admin", "adduser", "-name", " Alice ", "-email", "Alice@Test.cd", "-matricule", "MAT-001"}))
	uid := strings.TrimSpace(cli.out.String())
	got, err := usrRepo.GetUser(context.Background(), uid)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.FullName)
	assert.Equal(t, "alice@test.cd", got.Email)
	assert.Equal(t, "MAT-001", user.StringValue(got.Matricule))
	assert.False(t, got.IsVerified)
	assert.False(t, got.CreatedAt.IsZero())
}

func Test_commandLine_token(t *testing.T) {
	cli := setup(t)
	usr := testutil.CreateUser(t, usrRepo, "Alice", "alice@test.cd", "", true)

	runCLITests(t, cli, []cliTest{
		{name: "no args", args: []string{"token"}, wantErr: errHelp},
		{name: "unknown user", args: []string{"token", "-uid", "lol"}, wantErr: user.ErrNotFound},
		{name: "not an admin", args: []string{"token", "-uid", usr.UID}, wantErr: errNotAdmin},
	})

	testutil.MakeAdmin(t, adminRepo, usr)
	cli.out.Reset()
	require.NoError(t, cli.run([]string{"admin", "token", "-uid", usr.UID}))

	claims := new(echoapi.Claims)
	_, err := jwt.ParseWithClaims(strings.TrimSpace(cli.out.String()), claims, func(*jwt.Token) (interface{}, error) {
		return []byte(conf.SecretKey), nil
	})
	require.NoError(t, err)
	assert.Equal(t, usr.UID, claims.Subject)
	assert.Equal(t, usr.Email, claims.Email)
}
