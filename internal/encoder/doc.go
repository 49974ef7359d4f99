// Package encoder writes replay store snapshots to analytics file formats.
//
// A snapshot is flattened into long-form rows, one per store row and field:
//
//	store_id | row | field | dtype | values (list<double>) | int_values (list<long>) | taken_at
//
// Float fields fill values and integer fields fill int_values, so int64
// data keeps full precision. Rows are read and written one window at a
// time; the whole store is never held in memory.
//
// # Supported Formats
//
//   - Parquet: columnar, via parquet-go. Snappy by default; gzip, lz4, zstd
//     and uncompressed are also available.
//   - Avro: OCF with an embedded schema, via goavro. Gzip wraps the whole
//     file (".avro.gz"); deflate and snappy use OCF block compression.
//
// # Encoder Factory
//
//	factory := encoder.NewFactory(pkgencoder.FormatParquet, "snappy")
//	enc, err := factory.CreateEncoder()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	stats, err := enc.Encode(ctx, "/tmp/snapshot"+enc.FileExtension(), snap)
//
// Encoder instances hold no per-call state and are safe for concurrent use.
package encoder
