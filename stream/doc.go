// Package stream presents a block-addressed device as a seekable byte
// stream.
//
// A [Stream] caches exactly one block. Reads and writes at any offset are
// served from that block, loading it on demand; writes modify the cached
// copy (read-modify-write) and reach the device when the cursor leaves the
// block, on [Stream.Seek], on [Stream.Flush], or on [Stream.Close]:
//
//	s, err := stream.New(dev, partitionOffset)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	if _, err := s.Seek(1<<20, io.SeekStart); err != nil {
//	    return err
//	}
//	_, err = s.Write(payload)
//
// A Stream is not safe for concurrent use. Close must be called to learn
// whether the final flush succeeded; a Stream that is garbage collected while
// holding unflushed data is flushed on a best-effort basis and any failure is
// only logged.
package stream
