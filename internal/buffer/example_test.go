package buffer_test

import (
	"fmt"

	"github.com/jittakal/diskreplay/internal/buffer"
	"github.com/jittakal/diskreplay/pkg/record"
)

func Example_batchBuffer() {
	// Create a batch buffer with no byte limit and room for 4 records
	buf := buffer.New(0, 4)

	for i := 0; i < 4; i++ {
		rec := record.Record{
			"state":  []float32{float32(i), 0, 0, 0},
			"reward": []float32{1},
		}
		if err := buf.Add(rec); err != nil {
			fmt.Println("Error adding record:", err)
			return
		}
	}

	stats := buf.Stats()
	fmt.Printf("Records buffered: %d\n", stats.RecordCount)
	fmt.Printf("Buffer is full: %v\n", buf.Full())

	records := buf.Drain()
	fmt.Printf("Drained %d records\n", len(records))
	fmt.Printf("Buffer is empty after drain: %v\n", buf.IsEmpty())

	// Output:
	// Records buffered: 4
	// Buffer is full: true
	// Drained 4 records
	// Buffer is empty after drain: true
}
