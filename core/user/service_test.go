package user_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/campusadmin/core"
	"github.com/trezcool/campusadmin/core/user"
	emailsvc "github.com/trezcool/campusadmin/services/email"
	inmemdb "github.com/trezcool/campusadmin/storage/database/inmem"
	testutil "github.com/trezcool/campusadmin/tests"
)

var conf *core.Config

func TestMain(m *testing.M) {
	conf = testutil.NewConfig()
	core.ParseEmailTemplates(conf, testutil.NewLogger(conf))
	os.Exit(m.Run())
}

type fixture struct {
	svc    user.ServiceInterface
	repo   user.Repository
	admins user.AdminRepository
}

func setup(t *testing.T) fixture {
	t.Helper()
	emailsvc.ResetSentMessages()

	db := inmemdb.Open()
	repo := inmemdb.NewUserRepository(db)
	admins := inmemdb.NewAdminRepository(db)
	return fixture{
		svc:    user.NewService(repo, admins, emailsvc.NewConsoleServiceMock(conf, testutil.NewLogger(conf)), conf),
		repo:   repo,
		admins: admins,
	}
}

func uids(profiles []user.Profile) []string {
	res := make([]string, 0, len(profiles))
	for _, p := range profiles {
		res = append(res, p.UID)
	}
	return res
}

func TestService_Query(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	bPtr := func(b bool) *bool { return &b }

	now := time.Now()
	alice := testutil.CreateUser(t, f.repo, "Alice Mbuyi", "alice@test.cd", "MAT-001", true, now.Add(1*time.Hour))
	bob := testutil.CreateUser(t, f.repo, "Bob Kasongo", "bob@test.cd", "", false, now.Add(2*time.Hour))
	carol := testutil.CreateUser(t, f.repo, "Carol Ilunga", "carol@univ.cd", "mat-042", false, now.Add(3*time.Hour))
	testutil.MakeAdmin(t, f.admins, bob)

	tests := []struct {
		name     string
		filter   *user.QueryFilter
		ordering []core.DBOrdering
		want     []string
	}{
		{name: "no filter", want: []string{alice.UID, bob.UID, carol.UID}},
		{name: "empty search", filter: &user.QueryFilter{}, want: []string{alice.UID, bob.UID, carol.UID}},
		{name: "search unknown", filter: &user.QueryFilter{Search: "lol"}, want: []string{}},
		{name: "search full name", filter: &user.QueryFilter{Search: "KASON"}, want: []string{bob.UID}},
		{name: "search email", filter: &user.QueryFilter{Search: "test.cd"}, want: []string{alice.UID, bob.UID}},
		{name: "search matricule", filter: &user.QueryFilter{Search: "MAT-0"}, want: []string{alice.UID, carol.UID}},
		{name: "is_admin=true", filter: &user.QueryFilter{IsAdmin: bPtr(true)}, want: []string{bob.UID}},
		{name: "is_admin=false", filter: &user.QueryFilter{IsAdmin: bPtr(false)}, want: []string{alice.UID, carol.UID}},
		{name: "is_verified=true", filter: &user.QueryFilter{IsVerified: bPtr(true)}, want: []string{alice.UID}},
		{
			name:   "search and is_verified=false",
			filter: &user.QueryFilter{Search: "cd", IsVerified: bPtr(false)},
			want:   []string{bob.UID, carol.UID},
		},
		{
			name:     "order by -created_at",
			ordering: []core.DBOrdering{{Field: user.FieldCreatedAt}},
			want:     []string{carol.UID, bob.UID, alice.UID},
		},
		{
			name:     "order by is_verified, -full_name",
			ordering: []core.DBOrdering{{Field: user.FieldIsVerified, Ascending: true}, {Field: user.FieldFullName}},
			want:     []string{carol.UID, bob.UID, alice.UID},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := f.svc.Query(ctx, tt.filter, tt.ordering)
			require.NoError(t, err)
			assert.Equal(t, tt.want, uids(got))
		})
	}

	t.Run("admin flag resolved", func(t *testing.T) {
		got, err := f.svc.Query(ctx, &user.QueryFilter{Search: "bob"}, nil)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.True(t, got[0].IsAdmin)
		assert.False(t, got[0].IsVerified)
	})
}

func TestService_Get(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, f.repo, "Alice", "alice@test.cd", "", false)

	prof, err := f.svc.Get(ctx, usr.UID)
	require.NoError(t, err)
	assert.Equal(t, usr, prof.User)
	assert.False(t, prof.IsAdmin)

	_, err = f.svc.Get(ctx, "unknown")
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))
}

func TestService_Update(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	validate, translator := core.NewValidator()
	user.InitValidators(validate, translator, conf.Console.AcademicYears)

	usr := testutil.CreateUser(t, f.repo, "Alice", "alice@test.cd", "MAT-001", true)
	testutil.CreateUser(t, f.repo, "Bob", "bob@test.cd", "", false)

	t.Run("invalid data", func(t *testing.T) {
		data := user.UpdateUser{FullName: " ", Email: "lol", Year: "4ème Année"}
		err := data.Validate(ctx, usr, validate, f.svc)
		vErrs, ok := err.(validator.ValidationErrors)
		require.True(t, ok, "want validator.ValidationErrors; got %v", err)
		assert.Equal(t, map[string]string{
			"full_name": "this field is required",
			"email":     "enter a valid email address",
			"year":      "select a valid academic year",
		}, core.TranslateErrors(vErrs, translator))
	})

	t.Run("email taken", func(t *testing.T) {
		data := user.UpdateUser{FullName: "Alice", Email: " BOB@test.cd "}
		err := data.Validate(ctx, usr, validate, f.svc)
		vErr, ok := errors.Cause(err).(*core.ValidationError)
		require.True(t, ok, "want *core.ValidationError; got %v", err)
		assert.Equal(t, []core.FieldError{{Field: "email", Error: user.ErrEmailExists.Error()}}, vErr.Fields)
	})

	t.Run("valid data", func(t *testing.T) {
		data := user.UpdateUser{
			FullName:    " Alice Mbuyi ",
			Email:       "ALICE@test.cd",
			Year:        "2ème année",
			Speciality:  "Informatique",
			PhoneNumber: "+243 81 000 0000",
		}
		require.NoError(t, data.Validate(ctx, usr, validate, f.svc))

		prof, err := f.svc.Update(ctx, usr.UID, data)
		require.NoError(t, err)
		assert.Equal(t, "Alice Mbuyi", prof.FullName)
		assert.Equal(t, "alice@test.cd", prof.Email)
		assert.Nil(t, prof.Matricule, "cleared fields are unset")
		assert.Equal(t, "2ème Année", user.StringValue(prof.Year), "year is stored as configured")
		assert.Equal(t, "Informatique", user.StringValue(prof.Speciality))
		assert.True(t, prof.IsVerified, "verified status is kept")
		assert.Equal(t, usr.CreatedAt, prof.CreatedAt)

		got, err := f.repo.GetUser(ctx, usr.UID)
		require.NoError(t, err)
		assert.Equal(t, prof.User, got)
	})

	_, err := f.svc.Update(ctx, "unknown", user.UpdateUser{FullName: "X", Email: "x@test.cd"})
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))
}

func TestService_ToggleAdmin(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, f.repo, "Alice", "alice@test.cd", "", false)

	isAdmin, err := f.svc.ToggleAdmin(ctx, usr.UID)
	require.NoError(t, err)
	assert.True(t, isAdmin)
	stored, _ := f.admins.IsAdmin(ctx, usr.UID)
	assert.True(t, stored)

	isAdmin, err = f.svc.ToggleAdmin(ctx, usr.UID)
	require.NoError(t, err)
	assert.False(t, isAdmin)
	stored, _ = f.admins.IsAdmin(ctx, usr.UID)
	assert.False(t, stored)

	// granting twice keeps a single marker
	_, _ = f.svc.SetAdmin(ctx, usr.UID, true)
	isAdmin, err = f.svc.SetAdmin(ctx, usr.UID, true)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	_, err = f.svc.ToggleAdmin(ctx, "unknown")
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))
	stored, _ = f.admins.IsAdmin(ctx, "unknown")
	assert.False(t, stored, "no marker for unknown users")
}

func TestService_ToggleVerified(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, f.repo, "Alice", "alice@test.cd", "", false)

	isVerified, err := f.svc.ToggleVerified(ctx, usr.UID)
	require.NoError(t, err)
	assert.True(t, isVerified)

	sent := emailsvc.SentMessagesCopy()
	require.Len(t, sent, 1)
	assert.Equal(t, "alice@test.cd", sent[0].To[0].Address)
	assert.Contains(t, sent[0].TextContent, "Hello Alice,")
	assert.Contains(t, sent[0].HTMLContent, "Alice")

	// already verified: no new email
	isVerified, err = f.svc.SetVerified(ctx, usr.UID, true)
	require.NoError(t, err)
	assert.True(t, isVerified)
	assert.Len(t, emailsvc.SentMessagesCopy(), 1)

	isVerified, err = f.svc.ToggleVerified(ctx, usr.UID)
	require.NoError(t, err)
	assert.False(t, isVerified)
	got, _ := f.repo.GetUser(ctx, usr.UID)
	assert.False(t, got.IsVerified)
	assert.Len(t, emailsvc.SentMessagesCopy(), 1)

	_, err = f.svc.ToggleVerified(ctx, "unknown")
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))
}

func TestService_Delete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	usr := testutil.CreateUser(t, f.repo, "Alice", "alice@test.cd", "", false)
	testutil.MakeAdmin(t, f.admins, usr)

	require.NoError(t, f.svc.Delete(ctx, usr.UID))
	_, err := f.repo.GetUser(ctx, usr.UID)
	assert.Equal(t, user.ErrNotFound, err)
	isAdmin, _ := f.admins.IsAdmin(ctx, usr.UID)
	assert.False(t, isAdmin, "admin marker is removed with the user")

	assert.NoError(t, f.svc.Delete(ctx, usr.UID), "deleting twice is a no-op")
}

func TestService_BulkSetVerified(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := testutil.CreateUser(t, f.repo, "Alice", "alice@test.cd", "", false)
	bob := testutil.CreateUser(t, f.repo, "Bob", "bob@test.cd", "", true)
	carol := testutil.CreateUser(t, f.repo, "Carol", "carol@test.cd", "", false)

	require.NoError(t, f.svc.BulkSetVerified(ctx, nil, true), "empty selection")

	require.NoError(t, f.svc.BulkSetVerified(ctx, []string{alice.UID, bob.UID, alice.UID, " "}, true))
	for _, uid := range []string{alice.UID, bob.UID} {
		got, _ := f.repo.GetUser(ctx, uid)
		assert.True(t, got.IsVerified)
	}
	got, _ := f.repo.GetUser(ctx, carol.UID)
	assert.False(t, got.IsVerified)

	sent := emailsvc.SentMessagesCopy()
	require.Len(t, sent, 1, "only newly verified users are notified")
	assert.Equal(t, "alice@test.cd", sent[0].To[0].Address)

	require.NoError(t, f.svc.BulkSetVerified(ctx, []string{alice.UID, bob.UID, carol.UID}, false))
	profiles, _ := f.svc.Query(ctx, nil, nil)
	for _, p := range profiles {
		assert.False(t, p.IsVerified)
	}

	err := f.svc.BulkSetVerified(ctx, []string{carol.UID, "unknown"}, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "updating verified status of selected users")
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))
	got, _ = f.repo.GetUser(ctx, carol.UID)
	assert.True(t, got.IsVerified, "successful writes are kept")
}

// ctxRepo fails writes made with a done context, the way the document store does.
type ctxRepo struct {
	user.Repository
}

func (repo ctxRepo) SetVerified(ctx context.Context, uid string, verified bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return repo.Repository.SetVerified(ctx, uid, verified)
}

func (repo ctxRepo) DeleteUser(ctx context.Context, uid string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return repo.Repository.DeleteUser(ctx, uid)
}

func TestService_bulkFailureKeepsOtherWrites(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seqConf := *conf
	seqConf.Console.BulkConcurrency = 1
	svc := user.NewService(ctxRepo{f.repo}, f.admins, emailsvc.NewConsoleServiceMock(&seqConf, testutil.NewLogger(&seqConf)), &seqConf)

	selection := []string{"unknown"}
	for _, name := range []string{"Alice", "Bob", "Carol", "Dan"} {
		usr := testutil.CreateUser(t, f.repo, name, strings.ToLower(name)+"@test.cd", "", false)
		selection = append(selection, usr.UID)
	}

	err := svc.BulkSetVerified(ctx, selection, true)
	assert.Equal(t, user.ErrNotFound, errors.Cause(err))
	for _, uid := range selection[1:] {
		got, err := f.repo.GetUser(ctx, uid)
		require.NoError(t, err)
		assert.True(t, got.IsVerified, "user %s is written despite the earlier failure", got.FullName)
	}

	require.NoError(t, svc.BulkDelete(ctx, selection))
	profiles, err := svc.Query(ctx, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, profiles)
}

func TestService_BulkDelete(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	alice := testutil.CreateUser(t, f.repo, "Alice", "alice@test.cd", "", false)
	bob := testutil.CreateUser(t, f.repo, "Bob", "bob@test.cd", "", false)
	carol := testutil.CreateUser(t, f.repo, "Carol", "carol@test.cd", "", false)
	testutil.MakeAdmin(t, f.admins, bob)

	require.NoError(t, f.svc.BulkDelete(ctx, []string{}))
	require.NoError(t, f.svc.BulkDelete(ctx, []string{alice.UID, bob.UID, "unknown"}))

	profiles, err := f.svc.Query(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{carol.UID}, uids(profiles))
	admins, _ := f.admins.FilterAdmins(ctx, []string{bob.UID})
	assert.Empty(t, admins)
}

func TestService_ExportCSV(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	createdAt := time.Date(2021, 3, 14, 9, 26, 53, 0, time.UTC)
	alice := testutil.CreateUser(t, f.repo, "Alice", "alice@test.cd", "MAT-001", true, createdAt)
	bob := testutil.CreateUser(t, f.repo, "Bob, Jr.", "bob@test.cd", "", false, createdAt)
	testutil.MakeAdmin(t, f.admins, bob)

	var buff bytes.Buffer
	require.NoError(t, f.svc.ExportCSV(ctx, &buff, nil, nil))

	records, err := csv.NewReader(&buff).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{
			"UID", "FullName", "Email", "Matricule", "Year", "Speciality", "PhoneNumber",
			"Section", "Group", "ProfilePicUrl", "CreatedAt", "IsAdmin", "IsVerified",
		},
		{alice.UID, "Alice", "alice@test.cd", "MAT-001", "", "", "", "", "", "", "2021-03-14T09:26:53Z", "No", "Yes"},
		{bob.UID, "Bob, Jr.", "bob@test.cd", "", "", "", "", "", "", "", "2021-03-14T09:26:53Z", "Yes", "No"},
	}, records)

	buff.Reset()
	require.NoError(t, f.svc.ExportCSV(ctx, &buff, &user.QueryFilter{Search: "nobody"}, nil))
	records, err = csv.NewReader(&buff).ReadAll()
	require.NoError(t, err)
	assert.Len(t, records, 1, "header only")
}

func TestWriteCSV_unknownCreatedAt(t *testing.T) {
	var buff bytes.Buffer
	require.NoError(t, user.WriteCSV(&buff, []user.Profile{{User: user.User{UID: "u1", FullName: "X"}}}))
	records, err := csv.NewReader(&buff).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "", records[1][10])
}

func TestExportFilename(t *testing.T) {
	now := time.Date(2021, 3, 14, 9, 26, 53, 0, time.FixedZone("CAT", 2*60*60))
	assert.Equal(t, "users_export_2021-03-14T07-26-53Z.csv", user.ExportFilename(now))
}
