package language

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Profile describes how one language is materialized and executed.
// Compile and Run are argv templates; each token may contain the
// placeholders {file}, {executable} and {classname}, which are substituted
// token-by-token and never joined into a shell string.
type Profile struct {
	Name       string
	Extension  string
	Comment    string
	Template   string
	EditorMode string
	// Markup languages have no run step and short-circuit to a preview note.
	Markup  bool
	Compile []string
	Run     []string
}

// Compiled reports whether the profile has a separate compile step.
func (p Profile) Compiled() bool {
	return len(p.Compile) > 0
}

// Executable reports whether the profile can be run at all.
func (p Profile) Executable() bool {
	return !p.Markup
}

var profiles = map[string]Profile{
	"python": {
		Name:       "python",
		Extension:  ".py",
		Comment:    "#",
		Template:   "# Python code\nprint(\"Hello, World!\")\n",
		EditorMode: "python",
		Run:        []string{"python3", "{file}"},
	},
	"javascript": {
		Name:       "javascript",
		Extension:  ".js",
		Comment:    "//",
		Template:   "// JavaScript code\nconsole.log(\"Hello, World!\");\n",
		EditorMode: "javascript",
		Run:        []string{"node", "{file}"},
	},
	"java": {
		Name:       "java",
		Extension:  ".java",
		Comment:    "//",
		Template:   "public class Main {\n    public static void main(String[] args) {\n        System.out.println(\"Hello, World!\");\n    }\n}\n",
		EditorMode: "java",
		Compile:    []string{"javac", "{file}"},
		Run:        []string{"java", "{classname}"},
	},
	"cpp": {
		Name:       "cpp",
		Extension:  ".cpp",
		Comment:    "//",
		Template:   "#include <iostream>\nusing namespace std;\n\nint main() {\n    cout << \"Hello, World!\" << endl;\n    return 0;\n}\n",
		EditorMode: "c_cpp",
		Compile:    []string{"g++", "{file}", "-o", "{executable}"},
		Run:        []string{"{executable}"},
	},
	"c": {
		Name:       "c",
		Extension:  ".c",
		Comment:    "//",
		Template:   "#include <stdio.h>\n\nint main() {\n    printf(\"Hello, World!\\n\");\n    return 0;\n}\n",
		EditorMode: "c_cpp",
		Compile:    []string{"gcc", "{file}", "-o", "{executable}"},
		Run:        []string{"{executable}"},
	},
	"ruby": {
		Name:       "ruby",
		Extension:  ".rb",
		Comment:    "#",
		Template:   "# Ruby code\nputs \"Hello, World!\"\n",
		EditorMode: "ruby",
		Run:        []string{"ruby", "{file}"},
	},
	"go": {
		Name:       "go",
		Extension:  ".go",
		Comment:    "//",
		Template:   "package main\n\nimport \"fmt\"\n\nfunc main() {\n    fmt.Println(\"Hello, World!\")\n}\n",
		EditorMode: "golang",
		Run:        []string{"go", "run", "{file}"},
	},
	"rust": {
		Name:       "rust",
		Extension:  ".rs",
		Comment:    "//",
		Template:   "fn main() {\n    println!(\"Hello, World!\");\n}\n",
		EditorMode: "rust",
		Compile:    []string{"rustc", "{file}", "-o", "{executable}"},
		Run:        []string{"{executable}"},
	},
	"php": {
		Name:       "php",
		Extension:  ".php",
		Comment:    "//",
		Template:   "<?php\necho \"Hello, World!\\n\";\n?>\n",
		EditorMode: "php",
		Run:        []string{"php", "{file}"},
	},
	"bash": {
		Name:       "bash",
		Extension:  ".sh",
		Comment:    "#",
		Template:   "#!/bin/bash\necho \"Hello, World!\"\n",
		EditorMode: "sh",
		Run:        []string{"bash", "{file}"},
	},
	"typescript": {
		Name:       "typescript",
		Extension:  ".ts",
		Comment:    "//",
		Template:   "// TypeScript code\nconsole.log(\"Hello, World!\");\n",
		EditorMode: "typescript",
		Run:        []string{"ts-node", "{file}"},
	},
	"html": {
		Name:       "html",
		Extension:  ".html",
		Comment:    "<!--",
		Template:   "<!DOCTYPE html>\n<html>\n<head>\n    <title>Document</title>\n</head>\n<body>\n    <h1>Hello, World!</h1>\n</body>\n</html>\n",
		EditorMode: "html",
		Markup:     true,
	},
	"css": {
		Name:       "css",
		Extension:  ".css",
		Comment:    "/*",
		Template:   "/* CSS code */\nbody {\n    font-family: Arial, sans-serif;\n}\n",
		EditorMode: "css",
		Markup:     true,
	},
	"sql": {
		Name:       "sql",
		Extension:  ".sql",
		Comment:    "--",
		Template:   "-- SQL code\nSELECT \"Hello, World!\";\n",
		EditorMode: "sql",
		Run:        []string{"sqlite3", ":memory:", "-init", "{file}", "-batch", ".quit"},
	},
}

var extensions = map[string]string{
	".py":   "python",
	".js":   "javascript",
	".java": "java",
	".cpp":  "cpp",
	".c":    "c",
	".rb":   "ruby",
	".go":   "go",
	".rs":   "rust",
	".php":  "php",
	".sh":   "bash",
	".ts":   "typescript",
	".html": "html",
	".css":  "css",
	".sql":  "sql",
	".json": "json",
	".xml":  "xml",
	".md":   "markdown",
	".txt":  "text",
}

func init() {
	// The table is closed; a malformed profile is a programming error and
	// must fail at startup, not at lookup time.
	for name, p := range profiles {
		if p.Name != name {
			panic(fmt.Sprintf("language %q: profile name mismatch", name))
		}
		if p.Extension == "" {
			panic(fmt.Sprintf("language %q: missing extension", name))
		}
		if p.Markup && (len(p.Run) > 0 || len(p.Compile) > 0) {
			panic(fmt.Sprintf("language %q: markup profiles cannot execute", name))
		}
		if !p.Markup && len(p.Run) == 0 {
			panic(fmt.Sprintf("language %q: missing run command", name))
		}
		if len(p.Compile) > 0 && len(p.Run) == 0 {
			panic(fmt.Sprintf("language %q: compile step without run step", name))
		}
	}
}

// Lookup returns the profile for an enumerated language name.
func Lookup(name string) (Profile, bool) {
	p, ok := profiles[name]
	return p, ok
}

// Detect maps a filename to a language tag by extension, "text" when unknown.
func Detect(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if lang, ok := extensions[ext]; ok {
		return lang
	}
	return "text"
}

// Template returns the starter text for a language, empty when unknown.
func Template(name string) string {
	if p, ok := profiles[name]; ok {
		return p.Template
	}
	return ""
}

// All returns every profile in stable name order.
func All() []Profile {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Profile, 0, len(names))
	for _, name := range names {
		out = append(out, profiles[name])
	}
	return out
}
