package inmemdb

import (
	"context"
	"time"

	"github.com/trezcool/campusadmin/core/user"
)

type adminRepository struct {
	db *adminTable
}

var _ user.AdminRepository = (*adminRepository)(nil) // interface compliance check

func NewAdminRepository(db *DB) *adminRepository {
	return &adminRepository{db: db.admin}
}

func (repo *adminRepository) IsAdmin(_ context.Context, uid string) (bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()
	_, ok := repo.db.table[uid]
	return ok, nil
}

func (repo *adminRepository) FilterAdmins(_ context.Context, uids []string) (map[string]bool, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	admins := make(map[string]bool)
	for _, uid := range uids {
		if _, ok := repo.db.table[uid]; ok {
			admins[uid] = true
		}
	}
	return admins, nil
}

func (repo *adminRepository) GrantAdmin(_ context.Context, uid string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	if _, ok := repo.db.table[uid]; !ok {
		repo.db.table[uid] = time.Now().UTC()
	}
	return nil
}

func (repo *adminRepository) RevokeAdmin(_ context.Context, uid string) error {
	repo.db.Lock()
	defer repo.db.Unlock()
	delete(repo.db.table, uid)
	return nil
}
