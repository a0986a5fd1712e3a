package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/campusadmin/core"
	"github.com/trezcool/campusadmin/core/user"
)

type userRepository struct {
	db *userTable
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db.user}
}

func (repo *userRepository) query() []user.User {
	users := make([]user.User, 0, len(repo.db.table))
	for _, u := range repo.db.table {
		users = append(users, *u)
	}
	return users
}

func (repo *userRepository) CheckEmailUniqueness(_ context.Context, email string, excludedUsers []user.User) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, usr := range repo.query() {
		if usr.Email == email && !isExcluded(usr, excludedUsers) {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.table[usr.UID]; ok {
		return user.User{}, user.ErrUserExists
	}
	for _, u := range repo.db.table {
		if usr.Email != "" && u.Email == usr.Email {
			return user.User{}, user.ErrEmailExists
		}
	}
	repo.db.table[usr.UID] = &usr
	return usr, nil
}

func (repo *userRepository) QueryUsers(_ context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	users := make([]user.User, 0, len(repo.db.table))
	for _, usr := range repo.query() {
		if matches(usr, filter) {
			users = append(users, usr)
		}
	}
	sortUsers(users, ordering)
	return users, nil
}

func (repo *userRepository) GetUser(_ context.Context, uid string) (user.User, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if usr, ok := repo.db.table[uid]; ok {
		return *usr, nil
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) UpdateUser(_ context.Context, usr user.User) (user.User, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	origUsr, ok := repo.db.table[usr.UID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	// creation date & verified status are not editable
	usr.CreatedAt = origUsr.CreatedAt
	usr.IsVerified = origUsr.IsVerified
	repo.db.table[usr.UID] = &usr
	return usr, nil
}

func (repo *userRepository) SetVerified(_ context.Context, uid string, verified bool) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	usr, ok := repo.db.table[uid]
	if !ok {
		return user.ErrNotFound
	}
	usr.IsVerified = verified
	return nil
}

func (repo *userRepository) DeleteUser(_ context.Context, uid string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	delete(repo.db.table, uid)
	return nil
}

func isExcluded(usr user.User, excludedUsers []user.User) bool {
	for _, u := range excludedUsers {
		if u.UID == usr.UID {
			return true
		}
	}
	return false
}

func matches(usr user.User, filter *user.QueryFilter) bool {
	if filter == nil {
		return true
	}
	if filter.Search != "" {
		kw := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(usr.FullName), kw) &&
			!strings.Contains(strings.ToLower(usr.Email), kw) &&
			!strings.Contains(strings.ToLower(user.StringValue(usr.Matricule)), kw) {
			return false
		}
	}
	if filter.IsVerified != nil && usr.IsVerified != *filter.IsVerified {
		return false
	}
	if filter.Year != "" && user.StringValue(usr.Year) != filter.Year {
		return false
	}
	if filter.Speciality != "" && user.StringValue(usr.Speciality) != filter.Speciality {
		return false
	}
	return true
}

// sortUsers orders users the way the document store does: unset values first when ascending,
// by full name when no ordering is given, and by UID on ties.
func sortUsers(users []user.User, ordering []core.DBOrdering) {
	if len(ordering) == 0 {
		ordering = []core.DBOrdering{{Field: user.FieldFullName, Ascending: true}}
	}
	sort.SliceStable(users, func(i, j int) bool {
		for _, ord := range ordering {
			c := compare(users[i], users[j], ord.Field)
			if c == 0 {
				continue
			}
			if ord.Ascending {
				return c < 0
			}
			return c > 0
		}
		return users[i].UID < users[j].UID
	})
}

func compare(a, b user.User, field string) int {
	switch field {
	case user.FieldFullName:
		return strings.Compare(a.FullName, b.FullName)
	case user.FieldEmail:
		return strings.Compare(a.Email, b.Email)
	case user.FieldMatricule:
		return compareOpt(a.Matricule, b.Matricule)
	case user.FieldYear:
		return compareOpt(a.Year, b.Year)
	case user.FieldSpeciality:
		return compareOpt(a.Speciality, b.Speciality)
	case user.FieldSection:
		return compareOpt(a.Section, b.Section)
	case user.FieldGroup:
		return compareOpt(a.Group, b.Group)
	case user.FieldCreatedAt:
		switch {
		case a.CreatedAt.Before(b.CreatedAt):
			return -1
		case a.CreatedAt.After(b.CreatedAt):
			return 1
		}
	case user.FieldIsVerified:
		switch {
		case !a.IsVerified && b.IsVerified:
			return -1
		case a.IsVerified && !b.IsVerified:
			return 1
		}
	}
	return 0
}

func compareOpt(a, b *string) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return strings.Compare(*a, *b)
}
