package scanner

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// LoadUniverse reads a plain-text symbol-universe file: one symbol per
// line, blank lines and "#"-prefixed comments ignored (spec.md §4.9).
func LoadUniverse(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open universe file %s", path)
	}
	defer f.Close()

	var symbols []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		symbols = append(symbols, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read universe file %s", path)
	}
	return symbols, nil
}
