package save

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// ListWorlds returns the folder names under root that contain a world.json,
// in directory order.
func ListWorlds(root string) []string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if MetaExists(filepath.Join(root, e.Name())) {
			out = append(out, e.Name())
		}
	}
	return out
}

var (
	unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_\-]`)
	repeatedSep = regexp.MustCompile(`_+`)
	edgeSep     = regexp.MustCompile(`^_|_$`)
)

// ToFolderName sanitizes a display name into a unique folder name under
// root.
func ToFolderName(root, displayName string) string {
	base := unsafeChars.ReplaceAllString(displayName, "_")
	base = repeatedSep.ReplaceAllString(base, "_")
	base = edgeSep.ReplaceAllString(base, "")
	if base == "" {
		base = "world"
	}

	candidate := base
	for i := 1; ; i++ {
		if _, err := os.Stat(filepath.Join(root, candidate)); os.IsNotExist(err) {
			return candidate
		}
		candidate = base + "_" + strconv.Itoa(i)
	}
}
