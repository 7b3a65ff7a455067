// Package lsf reads and writes LSF log files.
//
// An LSF file (Data.lsf) is nothing more than IMC frames written back to
// back in the order they were logged. A log directory pairs it with the
// IMC.xml the frames were encoded with. Either file may be gzipped.
//
//	w, err := lsf.NewLogWriter(lsf.WriterConfig{FilePath: "log/Data.lsf", Registry: reg})
//	off, err := w.WriteMessage(msg)
//
//	r, err := lsf.NewLogReader(lsf.ReaderConfig{FilePath: "log/Data.lsf", Registry: reg})
//	stats, err := r.Scan(func(f *lsf.Frame) error { ... })
package lsf
