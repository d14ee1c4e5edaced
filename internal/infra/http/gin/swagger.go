package ginserver

import (
	_ "embed"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"
)

const openAPIPath = "/docs/openapi.json"

//go:embed swagger/openapi.json
var openAPIDocument []byte

//go:embed swagger/index.html
var swaggerPage string

// apiDocs serves the OpenAPI document of the booking API and a Swagger UI page reading it.
type apiDocs struct {
	page []byte
}

func newAPIDocs() apiDocs {
	return apiDocs{page: []byte(strings.ReplaceAll(swaggerPage, "{{SPEC_URL}}", openAPIPath))}
}

func (d apiDocs) register(router gin.IRoutes) {
	router.GET(openAPIPath, d.document)
	router.GET("/docs", d.ui)
}

func (d apiDocs) document(c *gin.Context) {
	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "application/json", openAPIDocument)
}

func (d apiDocs) ui(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", d.page)
}
