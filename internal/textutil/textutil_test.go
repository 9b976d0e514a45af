package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOwo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"```\nlol\n```", "```\nlawl\n```"},
		{"you and me", "yuw awnd me"},
		{"LOL", "LAWL"},
		{"Lol", "lawl"},
		{"hello world", "hewwo wowwd"},
		{"RaLLy  round", "WaWWy  wound"},
		{"", ""},
		{"  you\t", "  yuw\t"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Owo(tt.in))
		})
	}
}

func TestNormalizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"/a/a.b", "a"},
		{"A", "a"},
		{"A.B.C", "a.b"},
		{"", ""},
		{".hidden", ".hidden"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeFilename(tt.in), tt.in)
	}
}

func TestFileByName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		files  []string
		lookup string
		want   string
		found  bool
	}{
		{"empty", nil, "", "", false},
		{"case and extension", []string{"FiLe.ExT"}, "file", "FiLe.ExT", true},
		{"first exact normalized", []string{"filee", "FiLe.ExT", "filee"}, "file", "FiLe.ExT", true},
		{"no extension", []string{"filename", "FILE"}, "file", "FILE", true},
		{"missing", []string{"doge.png"}, "cat", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := FileByName(tt.files, tt.lookup)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}
