package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/seat-reservation-engine/internal/middleware"
	"github.com/iliyamo/seat-reservation-engine/internal/model"
	"github.com/iliyamo/seat-reservation-engine/internal/service"
)

var errNoUser = errors.New("user_id missing from context")

// getUserID extracts the user_id set by JWTAuth.  MapClaims decode numbers
// as float64, so that is the common case.
func getUserID(c echo.Context) (uint64, error) {
	switch t := c.Get("user_id").(type) {
	case uint64:
		return t, nil
	case int:
		return uint64(t), nil
	case int64:
		return uint64(t), nil
	case float64:
		if t <= 0 {
			return 0, errNoUser
		}
		return uint64(t), nil
	case string:
		id, err := strconv.ParseUint(strings.TrimSpace(t), 10, 64)
		if err != nil || id == 0 {
			return 0, errNoUser
		}
		return id, nil
	}
	return 0, errNoUser
}

// requesterFrom maps the authenticated caller to a Requester.  Operators
// and admins act on behalf of a walk-in customer; everybody else books for
// themselves.
func requesterFrom(c echo.Context) (model.Requester, error) {
	id, err := getUserID(c)
	if err != nil {
		return nil, err
	}
	switch role, _ := c.Get("role").(string); role {
	case middleware.RoleOperator, middleware.RoleAdmin:
		return model.OnBehalf{OperatorID: id}, nil
	}
	return model.Self{UserID: id}, nil
}

func parseID(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

func queryInt(c echo.Context, name string, def int) int {
	if v, err := strconv.Atoi(c.QueryParam(name)); err == nil && v > 0 {
		return v
	}
	return def
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// seatConflict renders a seat-level error with the offending seat.
func seatConflict(c echo.Context, status int, code string, err error) error {
	body := echo.Map{"error": code, "message": err.Error()}
	var se *service.SeatError
	if errors.As(err, &se) {
		body["showtimeId"] = se.ShowtimeID
		body["seatId"] = se.SeatID
	}
	return c.JSON(status, body)
}
