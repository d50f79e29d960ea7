package backend

import (
	"github.com/gorilla/handlers"
)

// handleCompression compresses responses for clients which accept gzip or deflate
func (b *Backend) handleCompression() {
	b.router.Use(handlers.CompressHandler)
}
