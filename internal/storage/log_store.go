package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	logging "github.com/op/go-logging"
	"google.golang.org/protobuf/encoding/protowire"
)

var logger = logging.MustGetLogger("storage")

// ErrClosed is returned by operations on a closed LogStore.
var ErrClosed = errors.New("store closed")

const (
	recordKey   protowire.Number = 1
	recordValue protowire.Number = 2
)

// LogStore is a Store backed by an append-only write-ahead log. Every Put
// appends a length-prefixed record and syncs the file before returning; the
// log is replayed into memory on open.
type LogStore struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	mem    *InMemoryStore
	closed bool
}

// OpenLogStore opens or creates the log at path and replays it. A torn record
// at the tail, left by a crash during a write, is truncated.
func OpenLogStore(path string) (*LogStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log %s: %w", path, err)
	}

	s := &LogStore{path: path, file: f, mem: NewInMemoryStore()}
	valid, records, err := s.replay()
	if err != nil {
		f.Close()
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat log %s: %w", path, err)
	}
	if info.Size() > valid {
		logger.Warningf("Truncating torn tail of %s: %d bytes", path, info.Size()-valid)
		if err := f.Truncate(valid); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to truncate log %s: %w", path, err)
		}
	}
	if _, err := f.Seek(valid, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek log %s: %w", path, err)
	}

	logger.Infof("Opened log %s: %d records, %d keys", path, records, s.mem.Len())
	return s, nil
}

// replay reads records from the start of the file and returns the offset of
// the end of the last complete record.
func (s *LogStore) replay() (int64, int, error) {
	if _, err := s.file.Seek(0, io.SeekStart); err != nil {
		return 0, 0, fmt.Errorf("failed to seek log: %w", err)
	}

	r := bufio.NewReader(s.file)
	var (
		offset  int64
		records int
	)
	for {
		size, n, err := readUvarint(r)
		if err != nil {
			// EOF, or a torn length prefix.
			return offset, records, nil
		}
		if size > maxRecordSize {
			return offset, records, nil
		}
		buf := make([]byte, size)
		if _, err := io.ReadFull(r, buf); err != nil {
			return offset, records, nil
		}
		key, value, err := decodeRecord(buf)
		if err != nil {
			return offset, records, nil
		}
		s.mem.Put(key, value)
		offset += int64(n) + int64(size)
		records++
	}
}

func readUvarint(r *bufio.Reader) (uint64, int, error) {
	var buf []byte
	for i := 0; i < binaryMaxVarintLen; i++ {
		c, err := r.ReadByte()
		if err != nil {
			return 0, 0, err
		}
		buf = append(buf, c)
		if c < 0x80 {
			v, n := protowire.ConsumeVarint(buf)
			if n < 0 {
				return 0, 0, protowire.ParseError(n)
			}
			return v, n, nil
		}
	}
	return 0, 0, errors.New("varint overflow")
}

const (
	binaryMaxVarintLen = 10
	maxRecordSize      = 64 << 20
)

func encodeRecord(key string, value []byte) []byte {
	var rec []byte
	rec = protowire.AppendTag(rec, recordKey, protowire.BytesType)
	rec = protowire.AppendString(rec, key)
	rec = protowire.AppendTag(rec, recordValue, protowire.BytesType)
	rec = protowire.AppendBytes(rec, value)

	out := protowire.AppendVarint(nil, uint64(len(rec)))
	return append(out, rec...)
}

func decodeRecord(b []byte) (string, []byte, error) {
	var (
		key   string
		value []byte
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", nil, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return "", nil, protowire.ParseError(n)
		}
		switch num {
		case recordKey:
			key = string(v)
		case recordValue:
			value = append([]byte{}, v...)
		}
		b = b[n:]
	}
	return key, value, nil
}

// Get retrieves a value by key.
func (s *LogStore) Get(key string) ([]byte, bool, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, false, ErrClosed
	}
	return s.mem.Get(key)
}

// Put appends the value to the log, syncs it and then makes it visible.
func (s *LogStore) Put(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if _, err := s.file.Write(encodeRecord(key, value)); err != nil {
		logger.Errorf("Write to %s failed for key=%s: %v", s.path, key, err)
		return fmt.Errorf("failed to append to log: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		logger.Errorf("Sync of %s failed for key=%s: %v", s.path, key, err)
		return fmt.Errorf("failed to sync log: %w", err)
	}
	return s.mem.Put(key, value)
}

// Close closes the log file.
func (s *LogStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.file.Close()
}
