// Package repodex provides an embedded Go client for the repodex code
// index. It connects to the same Redis-compatible store the repodex
// server writes to and covers the query side: hybrid search over indexed
// code units, per-job usage reports, and health checks.
//
//	client, _ := repodex.New(ctx,
//	    repodex.WithRedis("localhost:6379", ""),
//	    repodex.WithEmbedder(myEmbedder),
//	)
//	defer client.Close()
//
//	answer, _ := client.Search().
//	    Query("where is the retry budget enforced").
//	    Repo("payments").
//	    TopN(5).
//	    Do(ctx)
//
// Indexing jobs are driven by the repodex server, which owns the durable
// job backlog. The client never mutates the index; without an embedder
// it still serves lexical-only retrieval.
package repodex
