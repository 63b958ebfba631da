package executor

import (
	"fmt"
	"os"

	"github.com/Debunkem/CodeCollab/internal/room"
	"gopkg.in/yaml.v3"
)

// Runtime is the executor-side name and version for a room language
type Runtime struct {
	Language string `yaml:"language"`
	Version  string `yaml:"version"`
	FileName string `yaml:"file"`
}

type Runtimes map[room.Language]Runtime

func DefaultRuntimes() Runtimes {
	return Runtimes{
		room.LanguagePython:     {Language: "python", Version: "3.10.0", FileName: "main.py"},
		room.LanguageJavaScript: {Language: "javascript", Version: "18.15.0", FileName: "main.js"},
		room.LanguageJava:       {Language: "java", Version: "15.0.2", FileName: "Main.java"},
		room.LanguageCPP:        {Language: "c++", Version: "10.2.0", FileName: "main.cpp"},
	}
}

// Resolve returns the runtime for lang, falling back to Python
func (rs Runtimes) Resolve(lang room.Language) Runtime {
	if rt, ok := rs[lang]; ok {
		return rt
	}
	if rt, ok := rs[room.LanguagePython]; ok {
		return rt
	}
	return DefaultRuntimes()[room.LanguagePython]
}

type runtimesFile struct {
	Runtimes map[string]Runtime `yaml:"runtimes"`
}

// LoadRuntimes reads a YAML override of the runtime table, e.g.
//
//	runtimes:
//	  Python: {language: python, version: 3.12.0}
//
// Entries not named in the file keep their defaults.
func LoadRuntimes(path string) (Runtimes, error) {
	rs := DefaultRuntimes()
	if path == "" {
		return rs, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read runtimes file: %w", err)
	}

	var file runtimesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse runtimes file %s: %w", path, err)
	}

	for name, rt := range file.Runtimes {
		lang := room.Language(name)
		switch lang {
		case room.LanguageCPP, room.LanguageJava, room.LanguagePython, room.LanguageJavaScript:
		default:
			return nil, fmt.Errorf("runtimes file %s: unknown language %q", path, name)
		}
		if rt.Language == "" || rt.Version == "" {
			return nil, fmt.Errorf("runtimes file %s: %s needs language and version", path, name)
		}
		if rt.FileName == "" {
			rt.FileName = rs[lang].FileName
		}
		rs[lang] = rt
	}
	return rs, nil
}
