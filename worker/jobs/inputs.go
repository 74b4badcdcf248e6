package jobs

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"github.com/primerid/hpcqueue/os/temp"
	"github.com/primerid/hpcqueue/worker/runner"
)

// SplitFASTA writes every record of fasta to <dir>/<record id>/seqs.fasta and returns
// one unit per record, in document order. A repeated id gets the next free
// <id>_2, <id>_3, ... directory.
func SplitFASTA(fasta, dir string) ([]runner.WorkUnit, error) {
	root, err := temp.Open(dir)
	if err != nil {
		return nil, err
	}
	var units []runner.WorkUnit
	used := map[string]bool{}
	var id string
	var seq strings.Builder
	flush := func() error {
		if id == "" {
			return nil
		}
		name := unitName(id)
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s_%d", unitName(id), n)
		}
		used[name] = true
		d, err := root.FixedDir(name)
		if err != nil {
			return errors.Wrapf(err, "record %q", id)
		}
		body := ">" + id + "\n" + seq.String()
		if err := os.WriteFile(d.Path("seqs.fasta"), []byte(body), 0644); err != nil {
			return err
		}
		units = append(units, runner.WorkUnit{Index: len(units), Name: name, Dir: d.Dir})
		seq.Reset()
		return nil
	}

	s := bufio.NewScanner(strings.NewReader(fasta))
	s.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, ">"):
			if err := flush(); err != nil {
				return nil, err
			}
			fields := strings.Fields(line[1:])
			if len(fields) == 0 {
				return nil, errors.New("FASTA record without an id")
			}
			id = fields[0]
		case id == "":
			return nil, errors.New("FASTA sequence data before the first record header")
		default:
			seq.WriteString(line)
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, errors.New("no FASTA records found")
	}
	return units, nil
}

// unitName makes a record or library name usable as a directory name.
func unitName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == os.PathSeparator {
			return '_'
		}
		return r
	}, s)
}

// ReadPair holds the paths of a library's forward and reverse reads.
type ReadPair struct {
	R1 string
	R2 string
}

// libraryOf parses a read file name: the library is the lowercased name before _r1 or _r2.
func libraryOf(fileName string) (lib string, r1, r2 bool) {
	lower := strings.ToLower(fileName)
	r1 = strings.Contains(lower, "_r1")
	r2 = strings.Contains(lower, "_r2")
	sep := "_r2"
	if r1 {
		sep = "_r1"
	}
	return strings.SplitN(lower, sep, 2)[0], r1, r2
}

// SortReads finds every *.fast* file under src and copies it to <dst>/<library>/,
// decompressing .gz files on the way. It returns the read pair of each library.
func SortReads(src, dst string) (map[string]*ReadPair, error) {
	if _, err := temp.Open(dst); err != nil {
		return nil, err
	}
	libs := map[string]*ReadPair{}
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.Contains(d.Name(), ".fast") {
			return nil
		}
		name := strings.TrimSuffix(d.Name(), ".gz")
		lib, r1, r2 := libraryOf(name)
		if lib == "" {
			return errors.Errorf("no library name in %s", d.Name())
		}
		target := filepath.Join(dst, lib, name)
		if err := copyRead(path, target, strings.HasSuffix(d.Name(), ".gz")); err != nil {
			return err
		}
		pair, ok := libs[lib]
		if !ok {
			pair = &ReadPair{}
			libs[lib] = pair
		}
		switch {
		case r1:
			pair.R1 = target
		case r2:
			pair.R2 = target
		}
		return nil
	})
	return libs, errors.Wrapf(err, "sorting reads from %s", src)
}

func copyRead(src, dst string, gunzip bool) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	var r io.Reader = in
	if gunzip {
		zr, err := gzip.NewReader(in)
		if err != nil {
			return errors.Wrapf(err, "decompressing %s", src)
		}
		defer zr.Close()
		r = zr
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return errors.Wrapf(err, "copying %s", src)
	}
	return out.Close()
}

// libraryUnits returns one unit per library directory under dir, sorted by name.
func libraryUnits(dir string) ([]runner.WorkUnit, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	units := make([]runner.WorkUnit, len(names))
	for i, n := range names {
		units[i] = runner.WorkUnit{Index: i, Name: n, Dir: filepath.Join(dir, n)}
	}
	return units, nil
}

func writeJSON(path string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, append(b, '\n'), 0644), "writing %s", path)
}

// moveInto renames every existing path into dir, keeping base names.
func moveInto(dir string, paths ...string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for _, p := range paths {
		if _, err := os.Stat(p); os.IsNotExist(err) {
			continue
		}
		if err := os.Rename(p, filepath.Join(dir, filepath.Base(p))); err != nil {
			return errors.Wrapf(err, "moving %s into results", p)
		}
	}
	return nil
}

// copyTree copies the contents of src into dst.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyRead(path, target, false)
	})
}
