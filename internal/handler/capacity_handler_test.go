package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestCapacityHandlerAvailabilitiesRejectsInvalidDates(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewCapacityHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodGet, "/capacity/availabilities?templateIds=tpl-1&from=2025-01-06&to=soon", nil)
	c.Request = req

	handler.Availabilities(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCapacityHandlerBookMakeupRejectsMalformedPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewCapacityHandler(nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/capacity/makeups", strings.NewReader("[]"))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req

	handler.BookMakeup(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
}
