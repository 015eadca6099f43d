package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
)

type assetKey struct{}

// serveAsset writes the file stashed in the request context by ServeFile.
var serveAsset = gzhttp.GzipHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	path, _ := r.Context().Value(assetKey{}).(string)
	http.ServeFile(w, r, path)
}))

// RegisterFiles serves package files under prefix, at the URLs the asset
// resolver hands to renderers: prefix/:appId/:env/*path.
func (h *Handlers) RegisterFiles(r gin.IRouter, prefix string) {
	r.GET(prefix+"/:appId/:env/*path", h.ServeFile)
	r.HEAD(prefix+"/:appId/:env/*path", h.ServeFile)
}

// ServeFile serves one package file with a sniffed content type, gzipped
// when the client accepts it.
func (h *Handlers) ServeFile(c *gin.Context) {
	if h.assets == nil {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	asset, err := h.assets.Stat(c.Param("appId"), c.Param("env"), c.Param("path"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Content-Type", asset.MIME)
	c.Header("Cache-Control", "no-cache")

	ctx := context.WithValue(c.Request.Context(), assetKey{}, asset.Path)
	serveAsset.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
}
