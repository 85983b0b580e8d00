// Package output writes enumerated category members to disk.
package output

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/olgasafonova/wikicat/internal/mediawiki"
)

// Write writes one title per line to w, in order, with no header or escaping.
func Write(w io.Writer, members []mediawiki.CategoryMember) error {
	bw := bufio.NewWriter(w)
	for _, m := range members {
		if _, err := bw.WriteString(m.Title); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteTitles creates or truncates the file at path and writes members to it.
func WriteTitles(path string, members []mediawiki.CategoryMember) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create output file %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close output file %s: %w", path, cerr)
		}
	}()

	if err := Write(f, members); err != nil {
		return fmt.Errorf("failed to write output file %s: %w", path, err)
	}
	return nil
}
