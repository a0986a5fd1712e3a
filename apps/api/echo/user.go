package echoapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/campusadmin/core"
	"github.com/trezcool/campusadmin/core/user"
)

var (
	contextObjectKey    = "object"
	errUsrNotFoundInCtx = errors.New("user object not found in echo.Context")
)

type userApi struct {
	svc      user.ServiceInterface
	validate *validator.Validate
}

func registerUserAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps ServerDeps) {
	api := userApi{
		svc:      deps.UserSvc,
		validate: deps.Validate,
	}

	// every endpoint is restricted to admins
	ug := g.Group("/users", jwt, adminMiddleware(api.svc))
	ug.GET("", api.query)
	ug.DELETE("", api.destroyMultiple)
	ug.GET("/export", api.export)
	ug.GET("/years", api.queryYears)
	ug.POST("/verify", api.verifyMultiple)

	// detail endpoints
	dg := ug.Group("/:id", objectMiddleware(api.svc))
	dg.GET("", api.retrieve)
	dg.PUT("", api.update)
	dg.DELETE("", api.destroy)
	dg.POST("/toggle-admin", api.toggleAdmin)
	dg.POST("/toggle-verified", api.toggleVerified)
}

// Handlers

func (api *userApi) query(ctx echo.Context) error {
	filter, err := bindQueryFilter(ctx)
	if err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)
	pagination := new(Pagination)
	if err = pagination.Bind(ctx); err != nil {
		return err
	}

	profiles, err := api.svc.Query(ctx.Request().Context(), filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying users")
	}
	ctx.Response().Header().Set(headerTotalCount, strconv.Itoa(len(profiles)))
	return ctx.JSON(http.StatusOK, pagination.Apply(profiles))
}

func (api *userApi) export(ctx echo.Context) error {
	filter, err := bindQueryFilter(ctx)
	if err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	var buff bytes.Buffer
	if err = api.svc.ExportCSV(ctx.Request().Context(), &buff, filter, ordering.Orderings); err != nil {
		return errors.Wrap(err, "exporting users")
	}

	filename := user.ExportFilename(time.Now())
	ctx.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return ctx.Blob(http.StatusOK, "text/csv; charset=utf-8", buff.Bytes())
}

func (api *userApi) queryYears(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.svc.AcademicYears())
}

func (api *userApi) verifyMultiple(ctx echo.Context) error {
	var data user.BulkVerify
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to BulkVerify")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.svc.BulkSetVerified(ctx.Request().Context(), data.IDs, *data.Verified); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *userApi) destroyMultiple(ctx echo.Context) error {
	ids := ctx.QueryParams()["id"]
	if len(ids) == 0 {
		return ctx.NoContent(http.StatusNoContent)
	}

	// Say No to Suicide! ctxUser cannot delete themselves
	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	for i, id := range ids {
		ids[i] = core.CleanString(id)
		if ids[i] == ctxUsr.UID {
			return errDeleteSelf
		}
	}

	if err = api.svc.BulkDelete(ctx.Request().Context(), ids); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *userApi) retrieve(ctx echo.Context) error {
	prof, ok := ctx.Get(contextObjectKey).(user.Profile)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}
	return ctx.JSON(http.StatusOK, prof)
}

func (api *userApi) update(ctx echo.Context) error {
	prof, ok := ctx.Get(contextObjectKey).(user.Profile)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	var data user.UpdateUser
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateUser")
	}
	if err := data.Validate(ctx.Request().Context(), prof.User, api.validate, api.svc); err != nil {
		return err
	}

	prof, err := api.svc.Update(ctx.Request().Context(), prof.UID, data)
	if err != nil {
		return errors.Wrap(err, "updating user")
	}
	return ctx.JSON(http.StatusOK, prof)
}

func (api *userApi) destroy(ctx echo.Context) error {
	prof, ok := ctx.Get(contextObjectKey).(user.Profile)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	// Say No to Suicide! ctxUser cannot delete themselves
	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if prof.UID == ctxUsr.UID {
		return errDeleteSelf
	}

	if err = api.svc.Delete(ctx.Request().Context(), prof.UID); err != nil {
		return errors.Wrap(err, "deleting user")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *userApi) toggleAdmin(ctx echo.Context) error {
	prof, ok := ctx.Get(contextObjectKey).(user.Profile)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	// revoking themselves would lock the operator out
	ctxUsr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	if prof.IsAdmin && prof.UID == ctxUsr.UID {
		return errUnadminSelf
	}

	isAdmin, err := api.svc.SetAdmin(ctx.Request().Context(), prof.UID, !prof.IsAdmin)
	if err != nil {
		return errors.Wrap(err, "toggling admin status")
	}
	return ctx.JSON(http.StatusOK, AdminStatusResponse{UID: prof.UID, IsAdmin: isAdmin})
}

func (api *userApi) toggleVerified(ctx echo.Context) error {
	prof, ok := ctx.Get(contextObjectKey).(user.Profile)
	if !ok {
		return errors.Wrap(errUsrNotFoundInCtx, "retrieving object from context")
	}

	isVerified, err := api.svc.SetVerified(ctx.Request().Context(), prof.UID, !prof.IsVerified)
	if err != nil {
		return errors.Wrap(err, "toggling verified status")
	}
	return ctx.JSON(http.StatusOK, VerifiedStatusResponse{UID: prof.UID, IsVerified: isVerified})
}

// objectMiddleware loads the profile named by the `:id` path param.
func objectMiddleware(svc user.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			prof, err := svc.Get(ctx.Request().Context(), ctx.Param("id"))
			if err != nil {
				if errors.Cause(err) == user.ErrNotFound {
					return errHttpNotFound
				}
				return errors.Wrap(err, "finding user by ID")
			}
			ctx.Set(contextObjectKey, prof)
			return next(ctx)
		}
	}
}

type (
	AdminStatusResponse struct {
		UID     string `json:"uid"`
		IsAdmin bool   `json:"is_admin"`
	}

	VerifiedStatusResponse struct {
		UID        string `json:"uid"`
		IsVerified bool   `json:"is_verified"`
	}
)
