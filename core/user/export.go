package user

import (
	"context"
	"encoding/csv"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/campusadmin/core"
)

var csvHeader = []string{
	"UID", "FullName", "Email", "Matricule", "Year", "Speciality", "PhoneNumber",
	"Section", "Group", "ProfilePicUrl", "CreatedAt", "IsAdmin", "IsVerified",
}

// ExportFilename returns the name of an export file created at `now`.
func ExportFilename(now time.Time) string {
	return "users_export_" + now.UTC().Format("2006-01-02T15-04-05Z") + ".csv"
}

// ExportCSV writes the users matching filter as CSV, one row per profile.
func (svc *service) ExportCSV(ctx context.Context, w io.Writer, filter *QueryFilter, ordering []core.DBOrdering) error {
	profiles, err := svc.Query(ctx, filter, ordering)
	if err != nil {
		return err
	}
	return errors.Wrap(WriteCSV(w, profiles), "writing csv")
}

// WriteCSV writes profiles as CSV, header included.
func WriteCSV(w io.Writer, profiles []Profile) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, prof := range profiles {
		if err := cw.Write(csvRow(prof)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRow(prof Profile) []string {
	var createdAt string
	if !prof.CreatedAt.IsZero() {
		createdAt = prof.CreatedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		prof.UID,
		prof.FullName,
		prof.Email,
		StringValue(prof.Matricule),
		StringValue(prof.Year),
		StringValue(prof.Speciality),
		StringValue(prof.PhoneNumber),
		StringValue(prof.Section),
		StringValue(prof.Group),
		StringValue(prof.ProfilePicURL),
		createdAt,
		yesNo(prof.IsAdmin),
		yesNo(prof.IsVerified),
	}
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
