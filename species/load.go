package species

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hupe1980/scopeserve/internal/tsv"
)

// LoadSynonyms reads a synonym table with one "gene<TAB>syn1,syn2" entry per
// line. Blank lines and lines starting with '#' are skipped; a gene without
// synonyms is still covered.
func LoadSynonyms(r io.Reader, name, code string) (*Table, error) {
	t := &Table{Name: name, Code: code, Synonyms: make(map[string][]string)}
	err := tsv.Scan(r, func(line int, fields []string) error {
		gene := strings.TrimSpace(fields[0])
		if gene == "" {
			return fmt.Errorf("line %d: empty gene", line)
		}
		syns := t.Synonyms[gene]
		if len(fields) > 1 {
			for _, s := range strings.Split(fields[1], ",") {
				if s = strings.TrimSpace(s); s != "" && s != gene {
					syns = append(syns, s)
				}
			}
		}
		t.Synonyms[gene] = syns
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("species %s: %w", name, err)
	}
	return t, nil
}

// LoadOrthologs reads "source<TAB>target<TAB>percent_identity" lines.
func LoadOrthologs(r io.Reader, code, from, to string) (*Orthologs, error) {
	if len(code) != 2 {
		return nil, fmt.Errorf("orthologs %s: code %q must be two characters", from, code)
	}
	o := &Orthologs{Code: code, From: from, To: to, Pairs: make(map[string][]Ortholog)}
	err := tsv.Scan(r, func(line int, fields []string) error {
		if len(fields) < 3 {
			return fmt.Errorf("line %d: want 3 fields, got %d", line, len(fields))
		}
		id, err := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
		if err != nil {
			return fmt.Errorf("line %d: identity: %w", line, err)
		}
		src := strings.TrimSpace(fields[0])
		o.Pairs[src] = append(o.Pairs[src], Ortholog{Gene: strings.TrimSpace(fields[1]), Identity: id})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("orthologs %s→%s: %w", from, to, err)
	}
	return o, nil
}

// LoadSynonymsFile is LoadSynonyms over a file.
func LoadSynonymsFile(path, name, code string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadSynonyms(f, name, code)
}

// LoadOrthologsFile is LoadOrthologs over a file.
func LoadOrthologsFile(path, code, from, to string) (*Orthologs, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadOrthologs(f, code, from, to)
}
