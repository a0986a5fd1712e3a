package mongorepos

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/trezcool/campusadmin/core"
	"github.com/trezcool/campusadmin/core/user"
	"github.com/trezcool/campusadmin/storage/database"
)

// document keys of the users collection
const (
	keyID            = "_id"
	keyFullName      = "fullName"
	keyEmail         = "email"
	keyMatricule     = "matricule"
	keyYear          = "year"
	keySpeciality    = "speciality"
	keyPhoneNumber   = "phoneNumber"
	keySection       = "section"
	keyGroup         = "group"
	keyProfilePicURL = "profilePicUrl"
	keyCreatedAt     = "createdAt"
	keyIsVerified    = "isVerified"
)

var orderingKeys = map[string]string{
	user.FieldFullName:   keyFullName,
	user.FieldEmail:      keyEmail,
	user.FieldMatricule:  keyMatricule,
	user.FieldYear:       keyYear,
	user.FieldSpeciality: keySpeciality,
	user.FieldSection:    keySection,
	user.FieldGroup:      keyGroup,
	user.FieldCreatedAt:  keyCreatedAt,
	user.FieldIsVerified: keyIsVerified,
}

type userDoc struct {
	UID           string    `bson:"_id"`
	FullName      string    `bson:"fullName"`
	Email         string    `bson:"email,omitempty"`
	Matricule     *string   `bson:"matricule,omitempty"`
	Year          *string   `bson:"year,omitempty"`
	Speciality    *string   `bson:"speciality,omitempty"`
	PhoneNumber   *string   `bson:"phoneNumber,omitempty"`
	Section       *string   `bson:"section,omitempty"`
	Group         *string   `bson:"group,omitempty"`
	ProfilePicURL *string   `bson:"profilePicUrl,omitempty"`
	CreatedAt     time.Time `bson:"createdAt"`
	IsVerified    bool      `bson:"isVerified"`
}

type userRepository struct {
	coll *mongo.Collection
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *mongo.Database) *userRepository {
	return &userRepository{coll: db.Collection(database.UsersCollection)}
}

func (repo userRepository) toDoc(usr user.User) userDoc {
	return userDoc{
		UID:           usr.UID,
		FullName:      usr.FullName,
		Email:         usr.Email,
		Matricule:     usr.Matricule,
		Year:          usr.Year,
		Speciality:    usr.Speciality,
		PhoneNumber:   usr.PhoneNumber,
		Section:       usr.Section,
		Group:         usr.Group,
		ProfilePicURL: usr.ProfilePicURL,
		CreatedAt:     usr.CreatedAt.UTC(),
		IsVerified:    usr.IsVerified,
	}
}

func (repo userRepository) fromDoc(doc userDoc) user.User {
	return user.User{
		UID:           doc.UID,
		FullName:      doc.FullName,
		Email:         doc.Email,
		Matricule:     doc.Matricule,
		Year:          doc.Year,
		Speciality:    doc.Speciality,
		PhoneNumber:   doc.PhoneNumber,
		Section:       doc.Section,
		Group:         doc.Group,
		ProfilePicURL: doc.ProfilePicURL,
		CreatedAt:     doc.CreatedAt.UTC(),
		IsVerified:    doc.IsVerified,
	}
}

// trapNoDocsErr maps mongo "no documents" err to user.ErrNotFound
func (repo userRepository) trapNoDocsErr(err error, msg string) error {
	if err == mongo.ErrNoDocuments {
		return user.ErrNotFound
	}
	return wrapErr(err, msg)
}

// trapDuplicateErr maps unique index violations to user.ErrEmailExists or user.ErrUserExists
func (repo userRepository) trapDuplicateErr(err error, msg string) error {
	if mongo.IsDuplicateKeyError(err) {
		if strings.Contains(err.Error(), database.EmailIndex) {
			return user.ErrEmailExists
		}
		return user.ErrUserExists
	}
	return wrapErr(err, msg)
}

func (repo userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers []user.User) error {
	filter := bson.M{keyEmail: email}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.UID)
		}
		filter[keyID] = bson.M{"$nin": ids}
	}

	cnt, err := repo.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return wrapErr(err, "checking email uniqueness")
	}
	if cnt > 0 {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	doc := repo.toDoc(usr)
	if _, err := repo.coll.InsertOne(ctx, doc); err != nil {
		return user.User{}, repo.trapDuplicateErr(err, "inserting user")
	}
	return repo.fromDoc(doc), nil
}

func (repo userRepository) QueryUsers(ctx context.Context, filter *user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	query := bson.M{}

	if filter != nil {
		// users with FullName, Email or Matricule matching the search keyword
		if filter.Search != "" {
			rgx := bson.M{"$regex": regexp.QuoteMeta(filter.Search), "$options": "i"}
			query["$or"] = bson.A{
				bson.M{keyFullName: rgx},
				bson.M{keyEmail: rgx},
				bson.M{keyMatricule: rgx},
			}
		}
		if filter.IsVerified != nil {
			if *filter.IsVerified {
				query[keyIsVerified] = true
			} else {
				query[keyIsVerified] = bson.M{"$ne": true}
			}
		}
		if filter.Year != "" {
			query[keyYear] = filter.Year
		}
		if filter.Speciality != "" {
			query[keySpeciality] = filter.Speciality
		}
	}

	sort := bson.D{}
	for _, ord := range ordering {
		if key, ok := orderingKeys[ord.Field]; ok {
			sort = append(sort, bson.E{Key: key, Value: ord.Direction()})
		}
	}
	if len(sort) == 0 {
		sort = append(sort, bson.E{Key: keyFullName, Value: 1})
	}
	// stable pagination across equal keys
	sort = append(sort, bson.E{Key: keyID, Value: 1})

	cur, err := repo.coll.Find(ctx, query, options.Find().SetSort(sort))
	if err != nil {
		return nil, wrapErr(err, "querying users")
	}
	var docs []userDoc
	if err = cur.All(ctx, &docs); err != nil {
		return nil, wrapErr(err, "decoding users")
	}

	users := make([]user.User, 0, len(docs))
	for _, doc := range docs {
		users = append(users, repo.fromDoc(doc))
	}
	return users, nil
}

func (repo userRepository) GetUser(ctx context.Context, uid string) (user.User, error) {
	var doc userDoc
	if err := repo.coll.FindOne(ctx, bson.M{keyID: uid}).Decode(&doc); err != nil {
		return user.User{}, repo.trapNoDocsErr(err, "finding user by ID")
	}
	return repo.fromDoc(doc), nil
}

// UpdateUser sets the editable fields of usr and unsets the cleared ones.
// Keys the console does not manage are left untouched.
func (repo userRepository) UpdateUser(ctx context.Context, usr user.User) (user.User, error) {
	set := bson.M{keyFullName: usr.FullName, keyEmail: usr.Email}
	unset := bson.M{}
	optional := map[string]*string{
		keyMatricule:     usr.Matricule,
		keyYear:          usr.Year,
		keySpeciality:    usr.Speciality,
		keyPhoneNumber:   usr.PhoneNumber,
		keySection:       usr.Section,
		keyGroup:         usr.Group,
		keyProfilePicURL: usr.ProfilePicURL,
	}
	for key, val := range optional {
		if val == nil {
			unset[key] = ""
		} else {
			set[key] = *val
		}
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	var doc userDoc
	err := repo.coll.FindOneAndUpdate(
		ctx, bson.M{keyID: usr.UID}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return user.User{}, user.ErrNotFound
		}
		return user.User{}, repo.trapDuplicateErr(err, "updating user")
	}
	return repo.fromDoc(doc), nil
}

func (repo userRepository) SetVerified(ctx context.Context, uid string, verified bool) error {
	res, err := repo.coll.UpdateOne(ctx, bson.M{keyID: uid}, bson.M{"$set": bson.M{keyIsVerified: verified}})
	if err != nil {
		return wrapErr(err, "updating verified status")
	}
	if res.MatchedCount == 0 {
		return user.ErrNotFound
	}
	return nil
}

func (repo userRepository) DeleteUser(ctx context.Context, uid string) error {
	if _, err := repo.coll.DeleteOne(ctx, bson.M{keyID: uid}); err != nil {
		return wrapErr(err, "deleting user")
	}
	return nil
}
