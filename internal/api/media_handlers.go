package api

import (
	"net/http"
	"path"
	"strings"
)

// hlsContentTypes overrides the served MIME type for HLS artifacts. Some
// platforms register no type for .m3u8 or .ts, and players refuse streams
// served as application/octet-stream.
var hlsContentTypes = map[string]string{
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/MP2T",
}

// Media serves stored uploads and conversion output under /uploads/.
// http.ServeContent keeps a preset Content-Type, so the override is applied
// before the file server runs.
func (h *Handler) Media() http.Handler {
	files := http.StripPrefix("/uploads/", http.FileServer(http.Dir(h.Layout.Root())))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", "")
			return
		}
		if contentType, ok := hlsContentTypes[strings.ToLower(path.Ext(r.URL.Path))]; ok {
			w.Header().Set("Content-Type", contentType)
		}
		if h.AllowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", h.AllowedOrigin)
		}
		files.ServeHTTP(w, r)
	})
}
