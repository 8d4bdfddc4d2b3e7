// Package dataset loads practice datasets from files.
//
// A dataset file holds one word per line as tab-separated fields:
//
//	group<TAB>word<TAB>pinyin
//
// Pinyin uses tone marks and separates syllables with spaces. Blank lines and lines
// starting with '#' are skipped. The dataset id is the file name without extension.
package dataset

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const fileExt = ".tsv"

// Word is one entry of a group.
type Word struct {
	Text   string
	Pinyin string
}

// ID identifies the word within its dataset.
func (w Word) ID() string { return w.Text }

// Group is an ordered list of words practised together.
type Group struct {
	ID    string
	Words []Word
}

// Dataset is a named set of groups in file order.
type Dataset struct {
	ID     string
	Groups []Group
}

// Group returns the group with the given id.
func (d Dataset) Group(id string) (Group, bool) {
	for _, g := range d.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return Group{}, false
}

// GroupIDs returns the ids of all groups in file order.
func (d Dataset) GroupIDs() []string {
	ids := make([]string, len(d.Groups))
	for i, g := range d.Groups {
		ids[i] = g.ID
	}
	return ids
}

// Load reads the dataset file at path.
func Load(path string) (Dataset, error) {
	file, err := os.Open(path)
	if err != nil {
		return Dataset{}, err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil {
			// Best-effort close for read-only dataset.
			_ = cerr
		}
	}()

	ds := Dataset{ID: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}
	index := map[string]int{}
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return Dataset{}, fmt.Errorf("%s:%d: expected group and word", path, lineNo)
		}
		groupID := strings.TrimSpace(fields[0])
		word := Word{Text: strings.TrimSpace(fields[1])}
		if len(fields) > 2 {
			word.Pinyin = strings.TrimSpace(fields[2])
		}
		if groupID == "" || word.Text == "" {
			return Dataset{}, fmt.Errorf("%s:%d: empty group or word", path, lineNo)
		}
		i, ok := index[groupID]
		if !ok {
			i = len(ds.Groups)
			index[groupID] = i
			ds.Groups = append(ds.Groups, Group{ID: groupID})
		}
		ds.Groups[i].Words = append(ds.Groups[i].Words, word)
	}
	if err := scanner.Err(); err != nil {
		return Dataset{}, err
	}
	if len(ds.Groups) == 0 {
		return Dataset{}, fmt.Errorf("dataset is empty")
	}
	return ds, nil
}

// Path returns the file of dataset id inside dir.
func Path(dir, id string) string {
	return filepath.Join(dir, id+fileExt)
}

// List returns the ids of the datasets found in dir, sorted.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}
