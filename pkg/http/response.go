package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Envelope is the body of every ops API response.
type Envelope struct {
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Data    any         `json:"data,omitempty"`
	Total   *int        `json:"total,omitempty"`
	Errors  []*APIError `json:"errors,omitempty"`
}

// OK writes data with status 200.
func OK(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, Envelope{Status: http.StatusOK, Message: http.StatusText(http.StatusOK), Data: data})
}

// List writes rows with their count. A nil slice is written as [].
func List[T any](c echo.Context, rows []T) error {
	if rows == nil {
		rows = []T{}
	}
	n := len(rows)
	return c.JSON(http.StatusOK, Envelope{Status: http.StatusOK, Message: http.StatusText(http.StatusOK), Data: rows, Total: &n})
}

// Fail writes err using its APIError status.
func Fail(c echo.Context, err error) error {
	apiErr := AsAPIError(err)
	return c.JSON(apiErr.Status, Envelope{
		Status:  apiErr.Status,
		Message: http.StatusText(apiErr.Status),
		Errors:  []*APIError{apiErr},
	})
}
