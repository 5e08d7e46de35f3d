package language

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupKnownLanguages(t *testing.T) {
	for _, name := range []string{
		"python", "javascript", "java", "cpp", "c", "ruby", "go",
		"rust", "php", "bash", "typescript", "html", "css", "sql",
	} {
		p, ok := Lookup(name)
		require.True(t, ok, name)
		assert.Equal(t, name, p.Name)
		assert.NotEmpty(t, p.Extension)
		assert.NotEmpty(t, p.Template)
	}
}

func TestLookupUnknownIsDefinedMiss(t *testing.T) {
	_, ok := Lookup("brainfuck")
	assert.False(t, ok)
}

func TestProfileShape(t *testing.T) {
	for _, p := range All() {
		if p.Markup {
			assert.Empty(t, p.Compile, p.Name)
			assert.Empty(t, p.Run, p.Name)
			assert.False(t, p.Executable(), p.Name)
			continue
		}
		assert.NotEmpty(t, p.Run, p.Name)
		assert.True(t, p.Executable(), p.Name)
	}
}

func TestCompiledProfiles(t *testing.T) {
	compiled := map[string]bool{"java": true, "c": true, "cpp": true, "rust": true}
	for _, p := range All() {
		assert.Equal(t, compiled[p.Name], p.Compiled(), p.Name)
	}
}

func TestDetect(t *testing.T) {
	cases := map[string]string{
		"main.py":      "python",
		"app.JS":       "javascript",
		"Main.java":    "java",
		"x.cpp":        "cpp",
		"notes.md":     "markdown",
		"data.json":    "json",
		"README":       "text",
		"weird.xyz":    "text",
		"lib/util.rb":  "ruby",
		"style.css":    "css",
		"query.sql":    "sql",
		"script.sh":    "bash",
		"index.html":   "html",
		"server.go":    "go",
		"types.ts":     "typescript",
		"vendor.php":   "php",
		"ffi.rs":       "rust",
		"legacy.c":     "c",
		"untitled.txt": "text",
	}
	for filename, want := range cases {
		assert.Equal(t, want, Detect(filename), filename)
	}
}

func TestAllStableOrder(t *testing.T) {
	first := All()
	second := All()
	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Name, second[i].Name)
	}
	assert.Len(t, first, 14)
}

func TestTemplate(t *testing.T) {
	assert.Contains(t, Template("go"), "package main")
	assert.Empty(t, Template("nope"))
}
