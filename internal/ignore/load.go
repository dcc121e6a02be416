package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultFileName is the ignore file looked up in the source root.
const DefaultFileName = ".linkback-ignore"

// Load appends the rules in the file at path. One rule per line:
//
//	- pattern   exclude
//	+ pattern   include
//	pattern     exclude
//	# comment   skipped, as are blank lines
func (r *Rules) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open ignore file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var addErr error
		switch {
		case strings.HasPrefix(line, "+ "):
			addErr = r.Include(line[2:])
		case strings.HasPrefix(line, "- "):
			addErr = r.Exclude(line[2:])
		default:
			addErr = r.Exclude(line)
		}
		if addErr != nil {
			return fmt.Errorf("ignore file %s line %d: %w", path, lineNum, addErr)
		}
	}
	return scanner.Err()
}

// LoadIfExists is Load for an optional file. It reports whether the file
// was present.
func (r *Rules) LoadIfExists(path string) (bool, error) {
	err := r.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return true, err
	}
	return true, nil
}
