package user

import (
	"strings"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/campusadmin/core"
)

var (
	academicYearTag  = "academicyear"
	academicYearText = "select a valid academic year"
)

// InitValidators registers the user validators. `years` lists the accepted academic years.
func InitValidators(validate *validator.Validate, translator ut.Translator, years []string) {
	_ = validate.RegisterValidation(academicYearTag, academicYearValidation(years))
	core.RegisterCustomTranslation(validate, translator, academicYearTag, academicYearText)
}

// academicYearValidation accepts one of years, ignoring case.
func academicYearValidation(years []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		_, ok := lookupYear(years, fl.Field().String())
		return ok
	}
}

// lookupYear returns the configured spelling of val.
func lookupYear(years []string, val string) (string, bool) {
	for _, year := range years {
		if strings.EqualFold(year, val) {
			return year, true
		}
	}
	return "", false
}

// canonicalYear maps a validated year to its configured spelling, so that the `year` filter finds it.
func canonicalYear(years []string, val string) string {
	if year, ok := lookupYear(years, val); ok {
		return year
	}
	return val
}
