package page

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Manager is a file-backed page allocator: the sole arbiter of page id
// allocation and page I/O. Pages are stored in fixed-size slots inside
// a single database file and served out of a pinning in-memory cache,
// so all callers of Get for the same id share one buffer.
type Manager struct {
	file   *os.File
	cache  *Cache
	next   uint32   // next page id to allocate
	free   []uint32 // reclaimed ids; never populated in this version
	logger *zap.Logger
}

// Open opens or creates the database file behind a new Manager. An
// empty file is initialized with a zero-filled meta page at slot 0 and
// allocation starts at id 1; otherwise allocation resumes after the
// last full page already on disk.
func Open(path string, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "open db file %s", path)
	}

	m := &Manager{
		file:   f,
		cache:  NewCache(),
		logger: logger,
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat db file %s", path)
	}

	if fi.Size() == 0 {
		meta := make([]byte, PageSize)
		if _, err := f.WriteAt(meta, 0); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "initialize meta page")
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, errors.Wrap(err, "sync meta page")
		}
		m.next = 1
		logger.Info("initialized fresh database", zap.String("path", path))
	} else {
		m.next = uint32(fi.Size() / PageSize)
		logger.Info("opened existing database",
			zap.String("path", path),
			zap.Uint32("pages", m.next))
	}

	return m, nil
}

// Get returns the cached page for the given id, reading it from disk
// on first access. A short read (an id at or past the current end of
// file) yields a zero-filled buffer, which is how the first read of
// the meta page on a fresh file observes root id 0. The returned page
// stays valid and shared until Close.
func (m *Manager) Get(pageID uint32) (*Page, error) {
	if p := m.cache.Get(pageID); p != nil {
		return p, nil
	}

	data := make([]byte, PageSize)
	_, err := m.file.ReadAt(data, int64(pageID)*PageSize)
	if err != nil && err != io.EOF {
		return nil, errors.Wrapf(err, "read page %d", pageID)
	}

	p := NewPage(pageID, data)
	m.cache.Put(pageID, p)
	return p, nil
}

// Allocate hands out the next page id with a zero-initialized buffer.
// The header's page id is stamped and the free space offset starts at
// the end of the page; the new page is written through immediately so
// the file always covers every allocated id.
func (m *Manager) Allocate() (*Page, error) {
	var id uint32
	if n := len(m.free); n > 0 {
		id = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		id = m.next
		m.next++
	}

	p := NewPage(id, make([]byte, PageSize))
	p.SetPageID(id)
	p.SetFreeSpaceOffset(PageSize)
	m.cache.Put(id, p)

	if err := m.Flush(id); err != nil {
		return nil, err
	}
	m.logger.Debug("allocated page", zap.Uint32("pageID", id))
	return p, nil
}

// Flush writes the cached buffer for pageID back to its file slot and
// asks the OS to flush. Flushing an id that was never read or
// allocated is a no-op.
func (m *Manager) Flush(pageID uint32) error {
	p := m.cache.Get(pageID)
	if p == nil {
		return nil
	}
	if _, err := m.file.WriteAt(p.Data(), int64(pageID)*PageSize); err != nil {
		return errors.Wrapf(err, "write page %d", pageID)
	}
	if err := m.file.Sync(); err != nil {
		return errors.Wrapf(err, "sync page %d", pageID)
	}
	return nil
}

// NextID returns the id the next Allocate call will hand out.
func (m *Manager) NextID() uint32 {
	return m.next
}

// Stats returns cache statistics.
func (m *Manager) Stats() CacheStats {
	return m.cache.Stats()
}

// Close closes the database file. Cached pages are not re-flushed;
// every mutating tree operation already flushed the pages it touched.
func (m *Manager) Close() error {
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil
	return errors.Wrap(err, "close db file")
}
