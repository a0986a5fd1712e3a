package user

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campusadmin/core"
)

// Fields a list of users can be ordered by.
const (
	FieldFullName   = "full_name"
	FieldEmail      = "email"
	FieldMatricule  = "matricule"
	FieldYear       = "year"
	FieldSpeciality = "speciality"
	FieldSection    = "section"
	FieldGroup      = "group"
	FieldCreatedAt  = "created_at"
	FieldIsVerified = "is_verified"
)

var OrderingFields = []string{
	FieldFullName, FieldEmail, FieldMatricule, FieldYear, FieldSpeciality,
	FieldSection, FieldGroup, FieldCreatedAt, FieldIsVerified,
}

// IsOrderingField reports whether users can be ordered by `field`.
func IsOrderingField(field string) bool {
	for _, f := range OrderingFields {
		if f == field {
			return true
		}
	}
	return false
}

// User is a profile document of the users collection.
// The UID is the one issued by the authentication service.
// Optional fields are nil when unset.
type User struct {
	UID           string    `json:"uid"`
	FullName      string    `json:"full_name"`
	Email         string    `json:"email"`
	Matricule     *string   `json:"matricule"`
	Year          *string   `json:"year"`
	Speciality    *string   `json:"speciality"`
	PhoneNumber   *string   `json:"phone_number"`
	Section       *string   `json:"section"`
	Group         *string   `json:"group"`
	ProfilePicURL *string   `json:"profile_pic_url"`
	CreatedAt     time.Time `json:"created_at"` // UTC
	IsVerified    bool      `json:"is_verified"`
}

// Profile is a User as shown in the console: with its admin flag resolved.
type Profile struct {
	User
	IsAdmin bool `json:"is_admin"`
}

// NewUser contains information needed to create a new User.
type NewUser struct {
	UID        string `json:"uid"`
	FullName   string `json:"full_name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Matricule  string `json:"matricule"`
	Year       string `json:"year" validate:"omitempty,academicyear"`
	Speciality string `json:"speciality"`
}

func (nu *NewUser) Validate(ctx context.Context, validate *validator.Validate, svc ServiceInterface) error {
	nu.UID = core.CleanString(nu.UID)
	nu.FullName = core.CleanString(nu.FullName)
	nu.Email = core.CleanString(nu.Email, true /* lower */)
	nu.Matricule = core.CleanString(nu.Matricule)
	nu.Year = core.CleanString(nu.Year)
	nu.Speciality = core.CleanString(nu.Speciality)

	if err := validate.Struct(nu); err != nil {
		return err
	}
	nu.Year = canonicalYear(svc.AcademicYears(), nu.Year)
	return svc.CheckUniqueness(ctx, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
// Empty optional fields are cleared.
type UpdateUser struct {
	FullName      string `json:"full_name" validate:"required"`
	Email         string `json:"email" validate:"required,email"`
	Matricule     string `json:"matricule"`
	Year          string `json:"year" validate:"omitempty,academicyear"`
	Speciality    string `json:"speciality"`
	PhoneNumber   string `json:"phone_number"`
	Section       string `json:"section"`
	Group         string `json:"group"`
	ProfilePicURL string `json:"profile_pic_url" validate:"omitempty,url"`
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, validate *validator.Validate, svc ServiceInterface) error {
	uu.FullName = core.CleanString(uu.FullName)
	uu.Email = core.CleanString(uu.Email, true /* lower */)
	uu.Matricule = core.CleanString(uu.Matricule)
	uu.Year = core.CleanString(uu.Year)
	uu.Speciality = core.CleanString(uu.Speciality)
	uu.PhoneNumber = core.CleanString(uu.PhoneNumber)
	uu.Section = core.CleanString(uu.Section)
	uu.Group = core.CleanString(uu.Group)
	uu.ProfilePicURL = core.CleanString(uu.ProfilePicURL)

	if err := validate.Struct(uu); err != nil {
		return err
	}
	uu.Year = canonicalYear(svc.AcademicYears(), uu.Year)
	return svc.CheckUniqueness(ctx, uu.Email, origUsr)
}

// apply copies the update onto usr.
func (uu UpdateUser) apply(usr User) User {
	usr.FullName = uu.FullName
	usr.Email = uu.Email
	usr.Matricule = nullString(uu.Matricule)
	usr.Year = nullString(uu.Year)
	usr.Speciality = nullString(uu.Speciality)
	usr.PhoneNumber = nullString(uu.PhoneNumber)
	usr.Section = nullString(uu.Section)
	usr.Group = nullString(uu.Group)
	usr.ProfilePicURL = nullString(uu.ProfilePicURL)
	return usr
}

type BulkVerify struct {
	IDs      []string `json:"ids" validate:"required,min=1,dive,required"`
	Verified *bool    `json:"verified" validate:"required"`
}

func (bv *BulkVerify) Validate(validate *validator.Validate) error {
	for i, id := range bv.IDs {
		bv.IDs[i] = core.CleanString(id)
	}
	return validate.Struct(bv)
}

type QueryFilter struct {
	Search     string `query:"search"`
	IsAdmin    *bool  `query:"is_admin"`
	IsVerified *bool  `query:"is_verified"`
	Year       string `query:"year"`
	Speciality string `query:"speciality"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.IsAdmin == nil && qf.IsVerified == nil && qf.Year == "" && qf.Speciality == ""
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Year = core.CleanString(qf.Year)
	qf.Speciality = core.CleanString(qf.Speciality)
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue returns the value of an optional field, or "".
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
