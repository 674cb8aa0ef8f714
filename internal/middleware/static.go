package middleware

import (
	"net/http"
	"os"
	"path/filepath"
)

const fallbackResultPage = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Payment result</title></head>
<body style="font-family:sans-serif;text-align:center;margin-top:4em">
<h1>Payment processed</h1>
<p>You can close this page and return to the dealer panel.</p>
</body></html>`

// PaymentPageServer serves the branded payment result pages the browser is
// redirected to after the bank callback, with an inline fallback so the
// flow works on a bare deployment.
func PaymentPageServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := filepath.Clean(r.URL.Path)
		if filepath.Ext(page) == "" {
			page += ".html"
		}
		path := filepath.Join(dir, page)

		if _, err := os.Stat(path); err == nil {
			w.Header().Set("Cache-Control", "public, max-age=3600")
			http.ServeFile(w, r, path)
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(fallbackResultPage))
	})
}
