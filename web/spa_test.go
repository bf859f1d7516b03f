package web

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
)

func TestSPAHandler(t *testing.T) {
	fsys := fstest.MapFS{
		"index.html":    {Data: []byte("<html>dashboard</html>")},
		"assets/app.js": {Data: []byte("console.log(1)")},
	}
	h := SPAHandler(fsys)

	cases := []struct {
		path   string
		status int
		body   string
	}{
		{"/", http.StatusOK, "<html>dashboard</html>"},
		{"/assets/app.js", http.StatusOK, "console.log(1)"},
		{"/agents/12", http.StatusOK, "<html>dashboard</html>"},
		{"/api/nope", http.StatusNotFound, `{"error":"Not found"}`},
	}
	for _, tc := range cases {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tc.path, nil))
		assert.Equal(t, tc.status, w.Code, tc.path)
		assert.Equal(t, tc.body, w.Body.String(), tc.path)
	}
}
