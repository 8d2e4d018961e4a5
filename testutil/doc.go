// Package testutil provides synthetic tables and extractors for tests and
// benchmarks.
//
// # Synthetic Documents
//
//	rng := testutil.NewRNG(seed)
//	docs := rng.Documents(100_000, 1000, 8) // Zipf-distributed words
//	table := testutil.NewTable(testutil.Rows(docs), 100)
//
// # Extraction
//
//	ext := testutil.WordExtractor(true) // one posting per distinct word
//
// # Ground Truth
//
//	want := testutil.Matching(docs, 100, testutil.AllOf("w0001", "w0002"))
package testutil
