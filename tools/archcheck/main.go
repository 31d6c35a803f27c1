package main

import (
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const modulePath = "github.com/yairfalse/permitwatch/"

type Level int

const (
	LevelCmd Level = iota + 1
	LevelLoop
	LevelCollaborator
	LevelAmbient
	LevelModel
)

// packageLevels maps package prefixes to levels. The longest matching
// prefix wins.
var packageLevels = map[string]Level{
	"cmd":               LevelCmd,
	"tools":             LevelCmd,
	"internal/runner":   LevelLoop,
	"internal/fetcher":  LevelCollaborator,
	"internal/notifier": LevelCollaborator,
	"internal/storage":  LevelCollaborator,
	"internal/differ":   LevelCollaborator,
	"internal/cache":    LevelCollaborator,
	"pkg/config":        LevelCollaborator,
	"internal/errors":   LevelAmbient,
	"internal/logger":   LevelAmbient,
	"pkg/types":         LevelModel,
}

type Violation struct {
	FromFile    string
	FromPackage string
	FromLevel   Level
	ToPackage   string
	ToLevel     Level
}

func getPackageLevel(pkgPath string) Level {
	best, level := -1, Level(0)
	for prefix, l := range packageLevels {
		if pkgPath != prefix && !strings.HasPrefix(pkgPath, prefix+"/") {
			continue
		}
		if len(prefix) > best {
			best, level = len(prefix), l
		}
	}
	return level
}

func getPackageFromPath(root, filePath string) string {
	rel, err := filepath.Rel(root, filepath.Dir(filePath))
	if err != nil {
		return filepath.ToSlash(filepath.Dir(filePath))
	}
	return filepath.ToSlash(rel)
}

func checkFile(root, filePath string) ([]Violation, error) {
	var violations []Violation

	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	fset := token.NewFileSet()
	node, err := parser.ParseFile(fset, filePath, content, parser.ImportsOnly)
	if err != nil {
		return nil, err
	}

	fromPackage := getPackageFromPath(root, filePath)
	fromLevel := getPackageLevel(fromPackage)
	if fromLevel == 0 {
		return violations, nil
	}

	for _, imp := range node.Imports {
		importPath := strings.Trim(imp.Path.Value, `"`)
		if !strings.HasPrefix(importPath, modulePath) {
			continue
		}
		importPath = strings.TrimPrefix(importPath, modulePath)

		toLevel := getPackageLevel(importPath)
		if toLevel == 0 {
			continue
		}

		// a package may only import its own level or lower ones
		if toLevel < fromLevel {
			violations = append(violations, Violation{
				FromFile:    filePath,
				FromPackage: fromPackage,
				FromLevel:   fromLevel,
				ToPackage:   importPath,
				ToLevel:     toLevel,
			})
		}
	}

	return violations, nil
}

func walkGoFiles(root string) ([]string, error) {
	var files []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			name := info.Name()
			if path != root && (name == "vendor" || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_")) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(path, ".go") {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func levelName(l Level) string {
	switch l {
	case LevelCmd:
		return "CMD (Level 1)"
	case LevelLoop:
		return "LOOP (Level 2)"
	case LevelCollaborator:
		return "COLLABORATOR (Level 3)"
	case LevelAmbient:
		return "AMBIENT (Level 4)"
	case LevelModel:
		return "MODEL (Level 5)"
	default:
		return "UNKNOWN"
	}
}

// check walks root and returns the number of files checked and every
// violation found
func check(root string) (int, []Violation, error) {
	files, err := walkGoFiles(root)
	if err != nil {
		return 0, nil, err
	}

	var all []Violation
	checked := 0
	for _, file := range files {
		violations, err := checkFile(root, file)
		if err != nil {
			return checked, all, fmt.Errorf("checking %s: %w", file, err)
		}
		all = append(all, violations...)
		checked++
	}
	return checked, all, nil
}

func report(w io.Writer, checked int, violations []Violation) {
	fmt.Fprintf(w, "Checked %d Go files\n", checked)
	if len(violations) == 0 {
		fmt.Fprintln(w, "No architectural level violations found")
		return
	}

	fmt.Fprintf(w, "Found %d architectural level violations:\n", len(violations))

	byKind := make(map[string][]Violation)
	for _, v := range violations {
		key := fmt.Sprintf("%s -> %s", levelName(v.FromLevel), levelName(v.ToLevel))
		byKind[key] = append(byKind[key], v)
	}
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	for _, kind := range kinds {
		fmt.Fprintf(w, "\n  %s (%d):\n", kind, len(byKind[kind]))
		for _, v := range byKind[kind] {
			fmt.Fprintf(w, "    %s imports %s (%s)\n", v.FromPackage, v.ToPackage, v.FromFile)
		}
	}
}

func main() {
	root := "."
	if len(os.Args) > 1 {
		root = os.Args[1]
	}

	fmt.Println("permitwatch architecture level check")
	fmt.Println("  Level 1: cmd/, tools/")
	fmt.Println("  Level 2: internal/runner")
	fmt.Println("  Level 3: internal/fetcher, notifier, storage, differ, cache; pkg/config")
	fmt.Println("  Level 4: internal/errors, logger")
	fmt.Println("  Level 5: pkg/types")
	fmt.Println("Each level may only import from its own level or a higher number.")
	fmt.Println()

	checked, violations, err := check(root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	report(os.Stdout, checked, violations)
	if len(violations) > 0 {
		os.Exit(1)
	}
}
