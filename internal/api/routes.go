package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// RegisterRoutes registers the scan API routes under the given router. When
// authMiddleware is non-nil it is applied to every route in the group.
func RegisterRoutes(r chi.Router, h *Handler, authMiddleware func(next http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		if authMiddleware != nil {
			r.Use(authMiddleware)
		}

		r.Route("/scans", func(r chi.Router) {
			// POST /api/v1/scans - Run a scan and return the aggregate result
			r.Post("/", h.Scan)

			// POST /api/v1/scans/stream - Run a scan with SSE progress events
			r.Post("/stream", h.ScanStream)
		})

		// POST /api/v1/messages/detail - Fetch one message with bodies
		r.Post("/messages/detail", h.MessageDetail)

		r.Route("/attachments", func(r chi.Router) {
			// POST /api/v1/attachments/download - Serve verified PDF bytes
			r.Post("/download", h.AttachmentDownload)

			// POST /api/v1/attachments/archive - Store PDF in object storage
			r.Post("/archive", h.AttachmentArchive)
		})

		r.Route("/cursors", func(r chi.Router) {
			// GET /api/v1/cursors/:account - Read the stored scan cursor
			r.Get("/{account}", h.GetCursor)

			// PUT /api/v1/cursors/:account - Store a scan cursor
			r.Put("/{account}", h.PutCursor)

			// DELETE /api/v1/cursors/:account - Drop the stored cursor
			r.Delete("/{account}", h.DeleteCursor)
		})
	})
}
