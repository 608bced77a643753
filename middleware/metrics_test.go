package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chrischoy/MediaWhisperer/pkg/metrics"
	"github.com/gin-gonic/gin"
)

func TestMetricsMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(Metrics())
	router.GET("/items/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"id": c.Param("id")})
	})
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	for _, path := range []string{"/items/1", "/items/2", "/missing"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	body := w.Body.String()

	if !strings.Contains(body, `http_requests_total{path="/items/:id",status="200"} 2`) {
		t.Errorf("Expected route template counter in metrics output")
	}
	if !strings.Contains(body, `http_requests_total{path="unmatched",status="404"} 1`) {
		t.Errorf("Expected unmatched counter in metrics output")
	}
}
