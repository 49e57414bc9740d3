package moderation

import (
	"bufio"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/samber/lo"
)

//go:embed terms/*.txt
var termsFolder embed.FS

// LoadEmbeddedTerms reads every bundled term list. Lines starting with '#'
// are comments; duplicates across files are collapsed.
func LoadEmbeddedTerms() ([]string, error) {
	var terms []string

	err := fs.WalkDir(termsFolder, "terms", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".txt") {
			return nil
		}
		file, err := termsFolder.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer file.Close()

		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			terms = append(terms, line)
		}
		return scanner.Err()
	})
	if err != nil {
		return nil, err
	}
	return lo.Uniq(terms), nil
}
