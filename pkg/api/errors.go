package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/tbenself/clawops/pkg/coreerr"
)

// mapDomainError maps a domain-layer error to an HTTP error response,
// grounded in the teacher's pkg/api/errors.go mapServiceError: walk the
// known sentinel taxonomy with errors.Is/errors.As, falling back to 500 +
// slog.Error for anything unrecognized.
func mapDomainError(err error) *echo.HTTPError {
	var permErr *coreerr.PermissionError
	if errors.As(err, &permErr) {
		return echo.NewHTTPError(http.StatusForbidden, permErr.Error())
	}
	var transErr *coreerr.TransitionError
	if errors.As(err, &transErr) {
		return echo.NewHTTPError(http.StatusConflict, transErr.Error())
	}
	var validErr *coreerr.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	var claimErr *coreerr.NotClaimableError
	if errors.As(err, &claimErr) {
		return echo.NewHTTPError(http.StatusConflict, claimErr.Error())
	}

	switch {
	case errors.Is(err, coreerr.ErrUnauthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, coreerr.ErrNotAMember):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, coreerr.ErrInsufficientPermissions):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, coreerr.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, coreerr.ErrInvalidTransition),
		errors.Is(err, coreerr.ErrInvalidOptions),
		errors.Is(err, coreerr.ErrInvalidFallback),
		errors.Is(err, coreerr.ErrInvalidOption):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, coreerr.ErrNotClaimable):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, coreerr.ErrNotYourClaim):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.Is(err, coreerr.ErrSecretInPayload):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, coreerr.ErrProjectExists), errors.Is(err, coreerr.ErrDuplicateMember), errors.Is(err, coreerr.ErrAlreadyExists):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, coreerr.ErrCannotRemoveLastOwner):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}

	slog.Error("unexpected domain error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
