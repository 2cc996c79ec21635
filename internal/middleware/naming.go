package middleware

import "strings"

// scriptClassForFilename classifies a code file's base name per spec.md
// §4.2's "recognized code extension" rule: a ".server." or ".client."
// infix selects a server- or client-only running context, otherwise the
// file runs in both (a "module").
//
// Returns the instance name (infix and extension stripped) and class.
func scriptClassForFilename(name string) (baseName, className string, ok bool) {
	for _, ext := range codeExtensions {
		if !strings.HasSuffix(name, ext) {
			continue
		}
		stem := strings.TrimSuffix(name, ext)
		switch {
		case strings.HasSuffix(stem, ".server"):
			return strings.TrimSuffix(stem, ".server"), "Script", true
		case strings.HasSuffix(stem, ".client"):
			return strings.TrimSuffix(stem, ".client"), "LocalScript", true
		default:
			return stem, "ModuleScript", true
		}
	}
	return "", "", false
}

// codeExtensions are the recognized "text module" extensions (spec.md
// §4.2). Ordered longest-first is unnecessary here since none is a
// suffix of another.
var codeExtensions = []string{".lua", ".luau"}

const modelExtension = ".model"
const metaExtension = ".meta"
const projectExtension = ".project"

// dataExtensions maps a recognized plain-data suffix to the instance
// class it produces; the data rule stores the file's content as a string
// Value property (spec.md §4.2, "Plain data file ... an instance whose
// value property is the decoded content").
var dataExtensions = map[string]string{
	".txt": "StringValue",
}

// splitInfixExtension reports whether name ends in ".<infix>.<ext>" for
// one of the recognized file extensions, returning the stem with both the
// infix and extension removed.
func splitInfixExtension(name, infix string) (stem string, ok bool) {
	for _, ext := range allExtensions() {
		suffix := infix + ext
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix), true
		}
	}
	return "", false
}

func allExtensions() []string {
	exts := append([]string(nil), codeExtensions...)
	exts = append(exts, ".json", ".msgpack")
	return exts
}

func isModelFile(name string) (stem string, ok bool) {
	return splitInfixExtension(name, modelExtension)
}

func isMetaFile(name string) (stem string, ok bool) {
	return splitInfixExtension(name, metaExtension)
}

func isProjectFile(name string) bool {
	_, ok := splitInfixExtension(name, projectExtension)
	return ok
}

func isDataFile(name string) (className, ext string, ok bool) {
	for ext, class := range dataExtensions {
		if strings.HasSuffix(name, ext) {
			return class, ext, true
		}
	}
	return "", "", false
}

func isCodeFile(name string) bool {
	_, _, ok := scriptClassForFilename(name)
	return ok
}

func trimExt(name, ext string) string {
	return strings.TrimSuffix(name, ext)
}
