package navigation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw   string
		path  string
		query map[string]string
	}{
		{"/pages/index", "/pages/index", nil},
		{"/detail?id=7", "/detail", map[string]string{"id": "7"}},
		{"/search?q=hello%20world&lang=en", "/search", map[string]string{"q": "hello world", "lang": "en"}},
		{"/a?flag&x=1&x=2", "/a", map[string]string{"flag": "", "x": "2"}},
		{"/a?", "/a", nil},
		{"", "", nil},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			r, err := ParseURL(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.path, r.Path)
			assert.Equal(t, tt.query, r.Query)
		})
	}
}

func TestParseURLMalformedEscape(t *testing.T) {
	_, err := ParseURL("/a?x=%zz")
	assert.ErrorIs(t, err, errs.ErrMalformedInput)
}

func TestRouteURLSortsKeys(t *testing.T) {
	r := Route{Path: "/a", Query: map[string]string{"b": "2", "a": "x y"}}
	assert.Equal(t, "/a?a=x+y&b=2", r.URL())
	assert.Equal(t, "/a", Route{Path: "/a"}.URL())
}

func TestResolve(t *testing.T) {
	tests := []struct {
		base, target, want string
	}{
		{"/pages/index", "/pages/detail", "/pages/detail"},
		{"/pages/index", "detail", "/pages/detail"},
		{"/pages/index", "./detail?id=1", "/pages/detail?id=1"},
		{"/pages/sub/index", "../list", "/pages/list"},
		{"", "detail", "/detail"},
		{"/index", "//double//slash", "/double/slash"},
	}
	for _, tt := range tests {
		t.Run(tt.base+"+"+tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, Resolve(tt.base, tt.target))
		})
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "", Normalize(""))
	assert.Equal(t, "/pages/index", Normalize("pages/index"))
	assert.Equal(t, "/a", Normalize("/a/"))
}
