package services

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/flate"

	"github.com/tmxbot/envimix/internal/models"
)

// ErrBundleTooLarge is returned when the combined payload size across all
// cars exceeds the dump ceiling and bundling is skipped entirely.
var ErrBundleTooLarge = errors.New("bundle: combined payload size exceeds the dump ceiling")

// Archive is one numbered zip ready for attachment.
type Archive struct {
	Name string
	Data []byte
}

// Bundler packages not-yet-validated combination payloads into per-car
// archives, splitting whenever an archive would grow past the per-archive
// ceiling.
type Bundler struct {
	archiveSizeLimit int64
	dumpSizeLimit    int64
}

// NewBundler creates a bundler with the given ceilings
func NewBundler(archiveSizeLimit, dumpSizeLimit int64) *Bundler {
	return &Bundler{archiveSizeLimit: archiveSizeLimit, dumpSizeLimit: dumpSizeLimit}
}

// BuildArchives folds the open combinations of a campaign into archives,
// one series per car.
func (b *Bundler) BuildArchives(combos []models.Combination) ([]Archive, error) {
	byCar := make(map[string][]models.Combination)
	var total int64
	for _, c := range combos {
		if c.Validated {
			continue
		}
		byCar[c.CarID] = append(byCar[c.CarID], c)
		total += int64(len(c.Payload))
	}
	if total > b.dumpSizeLimit {
		return nil, ErrBundleTooLarge
	}

	cars := make([]string, 0, len(byCar))
	for car := range byCar {
		cars = append(cars, car)
	}
	sort.Strings(cars)

	var archives []Archive
	for _, car := range cars {
		parts, err := b.buildCarArchives(car, byCar[car])
		if err != nil {
			return nil, err
		}
		archives = append(archives, parts...)
	}
	return archives, nil
}

// buildCarArchives accumulates payloads into the current archive and cuts a
// new one whenever the next file would exceed the ceiling.
func (b *Bundler) buildCarArchives(car string, combos []models.Combination) ([]Archive, error) {
	var archives []Archive
	var cur *archiveBuilder

	flush := func() error {
		if cur == nil || cur.files == 0 {
			return nil
		}
		data, err := cur.close()
		if err != nil {
			return err
		}
		archives = append(archives, Archive{
			Name: fmt.Sprintf("%s-%d.zip", car, len(archives)+1),
			Data: data,
		})
		cur = nil
		return nil
	}

	for _, c := range combos {
		size := int64(len(c.Payload))
		if cur != nil && cur.size+size > b.archiveSizeLimit {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		if cur == nil {
			cur = newArchiveBuilder()
		}
		if err := cur.add(c.Name+".Map.Gbx", c.Payload); err != nil {
			return nil, err
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return archives, nil
}

// archiveBuilder wraps a zip writer with a running payload-size total.
type archiveBuilder struct {
	buf   bytes.Buffer
	zw    *zip.Writer
	size  int64
	files int
}

func newArchiveBuilder() *archiveBuilder {
	a := &archiveBuilder{}
	a.zw = zip.NewWriter(&a.buf)
	// klauspost's flate is noticeably faster than the stdlib on map files.
	a.zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestSpeed)
	})
	return a
}

func (a *archiveBuilder) add(name string, data []byte) error {
	w, err := a.zw.Create(name)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	a.size += int64(len(data))
	a.files++
	return nil
}

func (a *archiveBuilder) close() ([]byte, error) {
	if err := a.zw.Close(); err != nil {
		return nil, err
	}
	return a.buf.Bytes(), nil
}
