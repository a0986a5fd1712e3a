package mongorepos

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/campusadmin/core/user"
	"github.com/trezcool/campusadmin/storage/database"
)

type adminDoc struct {
	UID       string    `bson:"_id"`
	GrantedAt time.Time `bson:"grantedAt"`
}

type adminRepository struct {
	coll *mongo.Collection
}

var _ user.AdminRepository = (*adminRepository)(nil) // interface compliance check

func NewAdminRepository(db *mongo.Database) *adminRepository {
	return &adminRepository{coll: db.Collection(database.AdminsCollection)}
}

func (repo adminRepository) IsAdmin(ctx context.Context, uid string) (bool, error) {
	cnt, err := repo.coll.CountDocuments(ctx, bson.M{keyID: uid}, options.Count().SetLimit(1))
	if err != nil {
		return false, wrapErr(err, "checking admin status")
	}
	return cnt > 0, nil
}

func (repo adminRepository) FilterAdmins(ctx context.Context, uids []string) (map[string]bool, error) {
	admins := make(map[string]bool)
	if len(uids) == 0 {
		return admins, nil
	}

	cur, err := repo.coll.Find(
		ctx, bson.M{keyID: bson.M{"$in": uids}},
		options.Find().SetProjection(bson.M{keyID: 1}),
	)
	if err != nil {
		return nil, wrapErr(err, "querying admins")
	}
	var docs []adminDoc
	if err = cur.All(ctx, &docs); err != nil {
		return nil, wrapErr(err, "decoding admins")
	}
	for _, doc := range docs {
		admins[doc.UID] = true
	}
	return admins, nil
}

// GrantAdmin is idempotent: the first grant date is kept.
func (repo adminRepository) GrantAdmin(ctx context.Context, uid string) error {
	_, err := repo.coll.UpdateOne(
		ctx, bson.M{keyID: uid},
		bson.M{"$setOnInsert": bson.M{"grantedAt": time.Now().UTC()}},
		options.Update().SetUpsert(true),
	)
	return wrapErr(err, "granting admin status")
}

func (repo adminRepository) RevokeAdmin(ctx context.Context, uid string) error {
	_, err := repo.coll.DeleteOne(ctx, bson.M{keyID: uid})
	return wrapErr(err, "revoking admin status")
}
