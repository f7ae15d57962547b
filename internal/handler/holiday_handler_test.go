package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestHolidayHandlerListRejectsInvalidRange(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHolidayHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/holidays?from=bad&to=2025-01-31", nil)
	c.Request = req

	handler.List(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHolidayHandlerCreateRejectsMalformedPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHolidayHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/holidays", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.Create(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHolidayHandlerUncancelRejectsInvalidDate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHolidayHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodDelete, "/cancellations/tpl-1/13-01-2025", nil)
	c.Request = req
	c.Params = gin.Params{
		{Key: "templateId", Value: "tpl-1"},
		{Key: "date", Value: "13-01-2025"},
	}

	handler.UncancelOccurrence(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
