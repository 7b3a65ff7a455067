package lsf

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Standard file names inside a log directory.
const (
	DataFile   = "Data.lsf"
	SchemaFile = "IMC.xml"
	gzSuffix   = ".gz"
)

// LogFiles locates the parts of a log directory.
type LogFiles struct {
	Dir    string
	Data   string // Data.lsf or Data.lsf.gz
	Schema string // IMC.xml or IMC.xml.gz, empty if absent
}

// Compressed reports whether the data file is gzipped.
func (l LogFiles) Compressed() bool {
	return strings.HasSuffix(l.Data, gzSuffix)
}

// FindLog resolves a log directory or a path to a data file. Uncompressed
// files are preferred when both forms exist.
func FindLog(path string) (LogFiles, error) {
	st, err := os.Stat(path)
	if err != nil {
		return LogFiles{}, err
	}

	var files LogFiles
	if st.IsDir() {
		files.Dir = path
		files.Data = firstExisting(filepath.Join(path, DataFile), filepath.Join(path, DataFile+gzSuffix))
		if files.Data == "" {
			return LogFiles{}, fmt.Errorf("%w: %s", ErrNoLog, path)
		}
	} else {
		files.Dir = filepath.Dir(path)
		files.Data = path
	}
	files.Schema = firstExisting(filepath.Join(files.Dir, SchemaFile), filepath.Join(files.Dir, SchemaFile+gzSuffix))
	return files, nil
}

func firstExisting(paths ...string) string {
	for _, p := range paths {
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// Decompress gunzips src into dst.
func Decompress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return fmt.Errorf("failed to open gzip stream %s: %w", src, err)
	}
	defer gz.Close()

	return writeFile(dst, gz)
}

// Compress gzips src into dst.
func Compress(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(out)
	if _, err := io.Copy(gz, in); err != nil {
		gz.Close()
		out.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// Materialize returns a path to an uncompressed copy of the data file that
// supports positional reads. For compressed logs the copy is written to a
// temporary file which cleanup removes; otherwise cleanup does nothing.
func Materialize(path string) (plain string, cleanup func() error, err error) {
	if !strings.HasSuffix(path, gzSuffix) {
		return path, func() error { return nil }, nil
	}

	tmp, err := os.CreateTemp("", "imclog-*.lsf")
	if err != nil {
		return "", nil, err
	}
	name := tmp.Name()
	tmp.Close()

	if err := Decompress(path, name); err != nil {
		os.Remove(name)
		return "", nil, err
	}
	return name, func() error {
		if err := os.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	}, nil
}

// CopySchema copies a schema document into a log directory as IMC.xml.
func CopySchema(src, dir string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	var r io.Reader = in
	if strings.HasSuffix(src, gzSuffix) {
		gz, err := gzip.NewReader(in)
		if err != nil {
			return err
		}
		defer gz.Close()
		r = gz
	}
	return writeFile(filepath.Join(dir, SchemaFile), r)
}

func writeFile(dst string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
