package user

import (
	"context"
	"io"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/campusadmin/core"
)

var (
	// errors
	ErrNotFound    = errors.New("user not found")
	ErrUserExists  = errors.New("a user with this uid already exists")
	ErrEmailExists = errors.New("a user with this email already exists")
)

type (
	// Repository stores the profile documents of the users collection.
	Repository interface {
		CheckEmailUniqueness(ctx context.Context, email string, excludedUsers []User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		// QueryUsers applies AND operation on available QueryFilter fields, QueryFilter.IsAdmin excepted.
		// QueryFilter.Search does a case-insensitive match on one of User.FullName, User.Email or User.Matricule.
		QueryUsers(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]User, error)
		GetUser(ctx context.Context, uid string) (User, error)
		UpdateUser(ctx context.Context, usr User) (User, error)
		// SetVerified returns ErrNotFound if there is no such user.
		SetVerified(ctx context.Context, uid string, verified bool) error
		// DeleteUser is a no-op for unknown users.
		DeleteUser(ctx context.Context, uid string) error
	}

	// AdminRepository stores the admin markers: one document per admin, keyed by user ID.
	AdminRepository interface {
		IsAdmin(ctx context.Context, uid string) (bool, error)
		// FilterAdmins returns the set of admins among uids.
		FilterAdmins(ctx context.Context, uids []string) (map[string]bool, error)
		GrantAdmin(ctx context.Context, uid string) error
		RevokeAdmin(ctx context.Context, uid string) error
	}

	ServiceInterface interface {
		CheckUniqueness(ctx context.Context, email string, exclUsers ...User) error
		Create(ctx context.Context, nu NewUser) (Profile, error)
		Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Profile, error)
		Get(ctx context.Context, uid string) (Profile, error)
		Update(ctx context.Context, uid string, uu UpdateUser) (Profile, error)
		Delete(ctx context.Context, uid string) error
		SetAdmin(ctx context.Context, uid string, isAdmin bool) (bool, error)
		ToggleAdmin(ctx context.Context, uid string) (bool, error)
		SetVerified(ctx context.Context, uid string, verified bool) (bool, error)
		ToggleVerified(ctx context.Context, uid string) (bool, error)
		BulkSetVerified(ctx context.Context, uids []string, verified bool) error
		BulkDelete(ctx context.Context, uids []string) error
		ExportCSV(ctx context.Context, w io.Writer, filter *QueryFilter, ordering []core.DBOrdering) error
		AcademicYears() []string
	}

	service struct {
		repo    Repository
		admins  AdminRepository
		mailSvc core.EmailService
		conf    *core.Config
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository, admins AdminRepository, mailSvc core.EmailService, conf *core.Config) ServiceInterface {
	return &service{
		repo:    repo,
		admins:  admins,
		mailSvc: mailSvc,
		conf:    conf,
	}
}

func (svc *service) CheckUniqueness(ctx context.Context, email string, exclUsers ...User) error {
	if err := svc.repo.CheckEmailUniqueness(ctx, email, exclUsers); err != nil {
		if errors.Cause(err) == ErrEmailExists {
			return core.NewValidationError(ErrEmailExists, core.FieldError{Field: "email", Error: ErrEmailExists.Error()})
		}
		return errors.Wrap(err, "checking email uniqueness")
	}
	return nil
}

func (svc *service) Create(ctx context.Context, nu NewUser) (Profile, error) {
	uid := nu.UID
	if uid == "" {
		uid = uuid.New().String()
	}
	usr, err := svc.repo.CreateUser(ctx, User{
		UID:        uid,
		FullName:   nu.FullName,
		Email:      nu.Email,
		Matricule:  nullString(nu.Matricule),
		Year:       nullString(nu.Year),
		Speciality: nullString(nu.Speciality),
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		return Profile{}, errors.Wrap(err, "creating user")
	}
	return Profile{User: usr}, nil
}

// Query returns the users matching filter, with their admin flag resolved in a single lookup.
func (svc *service) Query(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Profile, error) {
	users, err := svc.repo.QueryUsers(ctx, filter, ordering)
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	if len(users) == 0 {
		return []Profile{}, nil
	}

	uids := make([]string, 0, len(users))
	for _, usr := range users {
		uids = append(uids, usr.UID)
	}
	admins, err := svc.admins.FilterAdmins(ctx, uids)
	if err != nil {
		return nil, errors.Wrap(err, "loading admin status")
	}

	profiles := make([]Profile, 0, len(users))
	for _, usr := range users {
		prof := Profile{User: usr, IsAdmin: admins[usr.UID]}
		if filter != nil && filter.IsAdmin != nil && *filter.IsAdmin != prof.IsAdmin {
			continue
		}
		profiles = append(profiles, prof)
	}
	return profiles, nil
}

func (svc *service) Get(ctx context.Context, uid string) (Profile, error) {
	usr, err := svc.repo.GetUser(ctx, uid)
	if err != nil {
		return Profile{}, err
	}
	isAdmin, err := svc.admins.IsAdmin(ctx, uid)
	if err != nil {
		return Profile{}, errors.Wrap(err, "loading admin status")
	}
	return Profile{User: usr, IsAdmin: isAdmin}, nil
}

func (svc *service) Update(ctx context.Context, uid string, uu UpdateUser) (Profile, error) {
	prof, err := svc.Get(ctx, uid)
	if err != nil {
		return Profile{}, err
	}
	usr, err := svc.repo.UpdateUser(ctx, uu.apply(prof.User))
	if err != nil {
		return Profile{}, errors.Wrap(err, "updating user")
	}
	prof.User = usr
	return prof, nil
}

// Delete removes the user's profile and admin marker. The account of the authentication service is left as is.
func (svc *service) Delete(ctx context.Context, uid string) error {
	if err := svc.repo.DeleteUser(ctx, uid); err != nil {
		return errors.Wrap(err, "deleting user")
	}
	if err := svc.admins.RevokeAdmin(ctx, uid); err != nil {
		return errors.Wrap(err, "revoking admin status")
	}
	return nil
}

func (svc *service) SetAdmin(ctx context.Context, uid string, isAdmin bool) (bool, error) {
	if _, err := svc.repo.GetUser(ctx, uid); err != nil {
		return false, err
	}
	if isAdmin {
		if err := svc.admins.GrantAdmin(ctx, uid); err != nil {
			return false, errors.Wrap(err, "granting admin status")
		}
		return true, nil
	}
	if err := svc.admins.RevokeAdmin(ctx, uid); err != nil {
		return true, errors.Wrap(err, "revoking admin status")
	}
	return false, nil
}

func (svc *service) ToggleAdmin(ctx context.Context, uid string) (bool, error) {
	isAdmin, err := svc.admins.IsAdmin(ctx, uid)
	if err != nil {
		return false, errors.Wrap(err, "loading admin status")
	}
	return svc.SetAdmin(ctx, uid, !isAdmin)
}

func (svc *service) SetVerified(ctx context.Context, uid string, verified bool) (bool, error) {
	usr, err := svc.repo.GetUser(ctx, uid)
	if err != nil {
		return false, err
	}
	return svc.setVerified(ctx, usr, verified)
}

func (svc *service) ToggleVerified(ctx context.Context, uid string) (bool, error) {
	usr, err := svc.repo.GetUser(ctx, uid)
	if err != nil {
		return false, err
	}
	return svc.setVerified(ctx, usr, !usr.IsVerified)
}

func (svc *service) setVerified(ctx context.Context, usr User, verified bool) (bool, error) {
	if err := svc.repo.SetVerified(ctx, usr.UID, verified); err != nil {
		return usr.IsVerified, errors.Wrap(err, "updating verified status")
	}
	if verified && !usr.IsVerified {
		svc.sendVerifiedMail(usr)
	}
	return verified, nil
}

// BulkSetVerified updates all users concurrently and waits for every write.
// Every write is attempted; the first failure is returned and the successful writes are kept.
func (svc *service) BulkSetVerified(ctx context.Context, uids []string, verified bool) error {
	err := svc.forEach(ctx, uids, func(ctx context.Context, uid string) error {
		_, err := svc.SetVerified(ctx, uid, verified)
		return errors.Wrapf(err, "user %q", uid)
	})
	return errors.Wrap(err, "updating verified status of selected users")
}

func (svc *service) BulkDelete(ctx context.Context, uids []string) error {
	err := svc.forEach(ctx, uids, func(ctx context.Context, uid string) error {
		return errors.Wrapf(svc.Delete(ctx, uid), "user %q", uid)
	})
	return errors.Wrap(err, "deleting selected users")
}

func (svc *service) forEach(ctx context.Context, uids []string, fn func(context.Context, string) error) error {
	uids = uniqueIDs(uids)
	if len(uids) == 0 {
		return nil
	}

	// a plain Group: one failed write must not cancel the queued ones
	var g errgroup.Group
	if svc.conf.Console.BulkConcurrency > 0 {
		g.SetLimit(svc.conf.Console.BulkConcurrency)
	}
	for _, uid := range uids {
		uid := uid
		g.Go(func() error { return fn(ctx, uid) })
	}
	return g.Wait()
}

func (svc *service) AcademicYears() []string {
	return svc.conf.Console.AcademicYears
}

func (svc *service) sendVerifiedMail(usr User) {
	if !svc.conf.Console.NotifyOnVerify || usr.Email == "" {
		return
	}
	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.FullName, Address: usr.Email}},
		Subject:      "Your account has been verified",
		TemplateName: "account_verified",
		TemplateData: usr,
	})
}

// uniqueIDs drops blank and duplicate IDs, keeping the first occurrence order.
func uniqueIDs(uids []string) []string {
	seen := make(map[string]bool, len(uids))
	res := make([]string, 0, len(uids))
	for _, uid := range uids {
		uid = core.CleanString(uid)
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		res = append(res, uid)
	}
	return res
}
