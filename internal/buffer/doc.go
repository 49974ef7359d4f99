// Package buffer provides thread-safe buffering for replay records.
//
// This package implements in-memory accumulation with record count and byte
// limits, designed for batching records before a single store write.
//
// # BatchBuffer
//
//	buf := buffer.New(maxSizeBytes, maxRecords)
//
//	for _, rec := range records {
//	    if err := buf.Add(rec); err != nil {
//	        if errors.Is(err, errors.ErrBufferFull) {
//	            batch := buf.Drain()
//	            writeBatch(batch)
//	        }
//	    }
//	}
//
// Full reports when the next Add would be refused, so a caller can drain
// ahead of time instead of handling ErrBufferFull.
//
// # Thread Safety
//
// All buffer operations are thread-safe using read-write mutexes:
//
//   - Add(), Drain(), Reset() use write locks
//   - Stats(), IsEmpty(), Len(), Full() use read locks
//
// # Statistics
//
//	stats := buf.Stats()
//	fmt.Printf("Records: %d, Size: %d bytes\n",
//	    stats.RecordCount, stats.SizeBytes)
//	fmt.Printf("First write: %v\n", stats.FirstWriteTime)
//
// The first write time is what the write path compares against its idle
// timeout.
package buffer
