package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// Response is the standard API envelope.
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func successResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusOK, Response{Status: "success", Data: data})
}

func createdResponse(c echo.Context, data any) error {
	return c.JSON(http.StatusCreated, Response{Status: "success", Data: data})
}

func errorResponse(c echo.Context, statusCode int, message string, err error) error {
	resp := Response{Status: "error", Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	return c.JSON(statusCode, resp)
}

func badRequestResponse(c echo.Context, message string) error {
	return errorResponse(c, http.StatusBadRequest, message, nil)
}

func notFoundResponse(c echo.Context, message string) error {
	return errorResponse(c, http.StatusNotFound, message, nil)
}
