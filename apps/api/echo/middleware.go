package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campusadmin/core/user"
)

// adminMiddleware only lets through operators holding the admin flag.
// The flag is read from the store on every request so that a revoke applies immediately.
func adminMiddleware(svc user.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			prof, err := getContextUser(ctx, svc)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			if prof.IsAdmin {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}
