package server

import (
	"io/fs"
	"net/http"
	"path"
	"strings"
)

func registerStatic(mux *http.ServeMux, dir string) {
	files := http.FileServer(staticFS{root: http.Dir(dir)})

	mux.Handle("GET /manifest.json", withHeaders(files, map[string]string{
		"Content-Type": "application/manifest+json",
	}))
	mux.Handle("GET /service-worker.js", withHeaders(files, map[string]string{
		"Content-Type":  "application/javascript",
		"Cache-Control": "no-cache, no-store, must-revalidate",
		"Pragma":        "no-cache",
		"Expires":       "0",
	}))
	mux.Handle("/", getOnly(files))
}

func withHeaders(next http.Handler, headers map[string]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// getOnly: шаблон "GET /" конфликтует с "/api/", поэтому "/" без метода.
func getOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// staticFS не отдаёт dot-файлы (.env, .git) и не показывает листинг каталогов.
type staticFS struct {
	root http.FileSystem
}

func (s staticFS) Open(name string) (http.File, error) {
	if hasDotSegment(name) {
		return nil, fs.ErrNotExist
	}

	f, err := s.root.Open(name)
	if err != nil {
		return nil, err
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		index, err := s.root.Open(path.Join(name, "index.html"))
		if err != nil {
			f.Close()
			return nil, fs.ErrNotExist
		}
		index.Close()
	}

	return f, nil
}

func hasDotSegment(name string) bool {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return true
		}
	}
	return false
}
