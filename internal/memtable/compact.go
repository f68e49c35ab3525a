package memtable

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// recordReader streams [kLen:2 LE][key][vLen:2 LE][value] records out
// of a flushed file one at a time.
type recordReader struct {
	r *bufio.Reader
}

// next returns the next record, with ok=false at a clean end of file.
// A record truncated mid-way is an error.
func (rr *recordReader) next() (key, value string, ok bool, err error) {
	var lenBuf [2]byte

	if _, err := io.ReadFull(rr.r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return "", "", false, nil
		}
		return "", "", false, errors.Wrap(err, "read key length")
	}
	kBuf := make([]byte, binary.LittleEndian.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(rr.r, kBuf); err != nil {
		return "", "", false, errors.Wrap(err, "read key")
	}

	if _, err := io.ReadFull(rr.r, lenBuf[:]); err != nil {
		return "", "", false, errors.Wrap(err, "read value length")
	}
	vBuf := make([]byte, binary.LittleEndian.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(rr.r, vBuf); err != nil {
		return "", "", false, errors.Wrap(err, "read value")
	}

	return string(kBuf), string(vBuf), true, nil
}

// Compact merges two flushed files into outPath with a streaming
// two-way merge. At each step the smaller key is emitted; on equal
// keys the record from newerPath wins and the older one is discarded.
// Records whose value is the tombstone sentinel are dropped, so the
// output is ascending by key with no duplicates and no tombstones.
func Compact(oldPath, newerPath, outPath string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	oldFile, err := os.Open(oldPath)
	if err != nil {
		return errors.Wrapf(err, "open %s", oldPath)
	}
	defer oldFile.Close()

	newerFile, err := os.Open(newerPath)
	if err != nil {
		return errors.Wrapf(err, "open %s", newerPath)
	}
	defer newerFile.Close()

	outFile, err := os.Create(outPath)
	if err != nil {
		return errors.Wrapf(err, "create %s", outPath)
	}
	defer outFile.Close()

	oldR := &recordReader{r: bufio.NewReader(oldFile)}
	newerR := &recordReader{r: bufio.NewReader(newerFile)}
	w := bufio.NewWriter(outFile)

	kOld, vOld, hasOld, err := oldR.next()
	if err != nil {
		return err
	}
	kNewer, vNewer, hasNewer, err := newerR.next()
	if err != nil {
		return err
	}

	written, dropped := 0, 0
	for hasOld || hasNewer {
		useNewer := false
		if hasOld && hasNewer {
			useNewer = kNewer <= kOld
		} else if hasNewer {
			useNewer = true
		}

		if useNewer {
			if vNewer != Tombstone {
				if err := writeRecord(w, kNewer, vNewer); err != nil {
					return errors.Wrapf(err, "write %s", outPath)
				}
				written++
			} else {
				dropped++
			}
			if hasOld && kOld == kNewer {
				// The older record is superseded; discard it.
				kOld, vOld, hasOld, err = oldR.next()
				if err != nil {
					return err
				}
			}
			kNewer, vNewer, hasNewer, err = newerR.next()
			if err != nil {
				return err
			}
		} else {
			if vOld != Tombstone {
				if err := writeRecord(w, kOld, vOld); err != nil {
					return errors.Wrapf(err, "write %s", outPath)
				}
				written++
			} else {
				dropped++
			}
			kOld, vOld, hasOld, err = oldR.next()
			if err != nil {
				return err
			}
		}
	}

	if err := w.Flush(); err != nil {
		return errors.Wrapf(err, "write %s", outPath)
	}

	logger.Info("compacted files",
		zap.String("old", oldPath),
		zap.String("newer", newerPath),
		zap.String("out", outPath),
		zap.Int("written", written),
		zap.Int("dropped", dropped))
	return nil
}
