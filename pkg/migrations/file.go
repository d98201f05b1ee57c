// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// CollectFilesFromDir returns every migration file in dir (.json and
// .toml), ordered by natural (numeric-aware) comparison of their stems, so
// that "2-add-index.json" sorts before "10-create-table.toml" the way a
// human numbering a migration sequence would expect (spec §6).
func CollectFilesFromDir(dir fs.FS) ([]string, error) {
	var files []string
	for _, glob := range []string{"*.json", "*.toml"} {
		matches, err := fs.Glob(dir, glob)
		if err != nil {
			return nil, fmt.Errorf("reading directory: %w", err)
		}
		files = append(files, matches...)
	}

	slices.SortFunc(files, func(a, b string) int {
		return compareStems(stem(a), stem(b))
	})
	return files, nil
}

func stem(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// compareStems orders two stems by splitting each into runs of digits and
// non-digits, comparing digit runs numerically and everything else
// lexically. This is what makes "9" sort before "10".
func compareStems(a, b string) int {
	ar, br := splitRuns(a), splitRuns(b)
	for i := 0; i < len(ar) && i < len(br); i++ {
		if c := compareRun(ar[i], br[i]); c != 0 {
			return c
		}
	}
	return len(ar) - len(br)
}

func splitRuns(s string) []string {
	var runs []string
	var cur strings.Builder
	var curIsDigit bool
	for i, r := range s {
		isDigit := r >= '0' && r <= '9'
		if i > 0 && isDigit != curIsDigit {
			runs = append(runs, cur.String())
			cur.Reset()
		}
		cur.WriteRune(r)
		curIsDigit = isDigit
	}
	if cur.Len() > 0 {
		runs = append(runs, cur.String())
	}
	return runs
}

func compareRun(a, b string) int {
	an, aerr := strconv.Atoi(a)
	bn, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// ReadMigration opens filename in dir and decodes it as a Migration. The
// format is chosen by extension: .toml via BurntSushi/toml, anything else
// via encoding/json (through Actions' own UnmarshalJSON).
// A missing Name defaults to the file's stem (spec §6).
func ReadMigration(dir fs.FS, filename string) (*Migration, error) {
	file, err := dir.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("opening migration file: %w", err)
	}
	defer file.Close()

	mig := &Migration{}
	switch filepath.Ext(filename) {
	case ".toml":
		// Actions discriminates on a JSON "type" tag via its own
		// UnmarshalJSON; rather than duplicate that logic for TOML, decode
		// into a generic document and hand it to the JSON path.
		var doc map[string]interface{}
		if _, err := toml.NewDecoder(file).Decode(&doc); err != nil {
			return nil, fmt.Errorf("decoding toml migration: %w", err)
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("converting toml migration to json: %w", err)
		}
		if err := json.Unmarshal(data, mig); err != nil {
			return nil, fmt.Errorf("decoding toml migration: %w", err)
		}
	default:
		dec := json.NewDecoder(file)
		dec.DisallowUnknownFields()
		if err := dec.Decode(mig); err != nil {
			return nil, fmt.Errorf("decoding json migration: %w", err)
		}
	}

	if mig.Name == "" {
		mig.Name = stem(filename)
	}
	return mig, nil
}
