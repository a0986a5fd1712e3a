package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/trezcool/campusadmin/core"
	"github.com/trezcool/campusadmin/core/user"
)

const (
	orderingParam    = "ordering"
	pageParam        = "page"
	pageSizeParam    = "page_size"
	headerTotalCount = "X-Total-Count"

	defaultPageSize = 25
)

var pageSizes = []int{15, 25, 50, 100}

// Ordering binds `?ordering=field1,-field2` to a list of core.DBOrdering.
// Fields users cannot be ordered by are skipped.
type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if !user.IsOrderingField(field) {
			continue
		}
		ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
	}
}

// bindQueryFilter reads the list filters from the query string.
func bindQueryFilter(ctx echo.Context) (*user.QueryFilter, error) {
	filter := &user.QueryFilter{
		Search:     ctx.QueryParam("search"),
		Year:       ctx.QueryParam("year"),
		Speciality: ctx.QueryParam("speciality"),
	}

	var fldErrs []core.FieldError
	parseBool := func(name string) *bool {
		val := ctx.QueryParam(name)
		if val == "" {
			return nil
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			fldErrs = append(fldErrs, core.FieldError{Field: name, Error: "enter a valid boolean"})
			return nil
		}
		return &b
	}
	filter.IsAdmin = parseBool("is_admin")
	filter.IsVerified = parseBool("is_verified")
	if len(fldErrs) > 0 {
		return nil, core.NewValidationError(nil, fldErrs...)
	}

	filter.Clean()
	return filter, nil
}

// Pagination binds `?page=&page_size=`. A zero Page means no pagination.
type Pagination struct {
	Page     int
	PageSize int
}

func (p *Pagination) Bind(ctx echo.Context) error {
	val := ctx.QueryParam(pageParam)
	if val == "" {
		return nil
	}
	page, err := strconv.Atoi(val)
	if err != nil || page < 1 {
		return core.NewValidationError(nil, core.FieldError{Field: pageParam, Error: "enter a valid page number"})
	}
	p.Page = page
	p.PageSize = defaultPageSize

	if val = ctx.QueryParam(pageSizeParam); val != "" {
		size, err := strconv.Atoi(val)
		if err != nil || !isPageSize(size) {
			return core.NewValidationError(nil, core.FieldError{Field: pageSizeParam, Error: "select a valid page size"})
		}
		p.PageSize = size
	}
	return nil
}

// Apply returns the requested page of profiles. Out of range pages are empty.
func (p Pagination) Apply(profiles []user.Profile) []user.Profile {
	if p.Page == 0 {
		return profiles
	}
	start := (p.Page - 1) * p.PageSize
	if start >= len(profiles) {
		return []user.Profile{}
	}
	end := start + p.PageSize
	if end > len(profiles) {
		end = len(profiles)
	}
	return profiles[start:end]
}

func isPageSize(size int) bool {
	for _, s := range pageSizes {
		if s == size {
			return true
		}
	}
	return false
}
