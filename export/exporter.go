package export

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

// After this many consecutive store failures the queue is bypassed and every
// record is written synchronously until a write succeeds again; weaving itself
// is never affected.
const maxStoreFailures = 5

// Exporter writes woven classes to an output directory and records transform
// history. It satisfies weave.Observer. Records are persisted off the weaving
// path through a small queue; when the queue is full the write happens
// synchronously rather than dropping the record.
type Exporter struct {
	dir   string
	store *Store // nil disables history
	log   commonlog.Logger

	queue    chan *Record
	wg       sync.WaitGroup
	failures int32
}

// NewExporter creates an exporter writing class files under dir. A nil store
// disables history recording.
func NewExporter(dir string, store *Store) *Exporter {
	e := &Exporter{
		dir:   dir,
		store: store,
		log:   commonlog.GetLogger("weft.export"),
		queue: make(chan *Record, 64),
	}
	if store != nil {
		e.wg.Add(1)
		go e.run()
	}
	return e
}

// ClassTransformed writes the woven bytes and enqueues a history record.
func (e *Exporter) ClassTransformed(target string, traits []string, before, after []byte) {
	path := filepath.Join(e.dir, filepath.FromSlash(target)+".class")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		e.log.Errorf("creating %s: %s", filepath.Dir(path), err.Error())
		return
	}
	if err := os.WriteFile(path, after, 0644); err != nil {
		e.log.Errorf("writing %s: %s", path, err.Error())
		return
	}

	if e.store == nil {
		return
	}
	rec := NewRecord(target, traits, before, after)
	if atomic.LoadInt32(&e.failures) >= maxStoreFailures {
		e.persist(rec)
		return
	}
	select {
	case e.queue <- rec:
	default:
		e.persist(rec)
	}
}

func (e *Exporter) run() {
	defer e.wg.Done()
	for rec := range e.queue {
		e.persist(rec)
	}
}

func (e *Exporter) persist(rec *Record) {
	if err := e.store.Put(rec); err != nil {
		if n := atomic.AddInt32(&e.failures, 1); n == maxStoreFailures {
			e.log.Errorf("history store failed %d times, dropping to synchronous writes: %s", n, err.Error())
		} else {
			e.log.Warningf("recording transform of %s: %s", rec.Target, err.Error())
		}
		return
	}
	atomic.StoreInt32(&e.failures, 0)
}

// Close drains the queue and closes the store.
func (e *Exporter) Close() error {
	if e.store == nil {
		return nil
	}
	close(e.queue)
	e.wg.Wait()
	return e.store.Close()
}
