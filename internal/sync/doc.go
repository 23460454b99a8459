// Package sync keeps the SQLite index in step with the document and
// relationship files on disk.
//
// Layout
//
//	<data dir>
//	     ├── docs/**/*.json                    → schema.DocFile
//	     └── rels/{parent}--{type}--{child}.json → schema.RelFile
//	                     ↓
//	                   Syncer
//	                     ↓
//	     documents + document_relationships (store/db)
//
// Documents are upserted directly. Relationships go through the engine, so a
// file describing an edge that would close a cycle, repeat a pair or join
// incompatible document types is rejected the same way an API call would be.
// A rejected or unreadable file is logged and counted; it never stops a full
// sync.
//
// Usage
//
//	database, err := db.Open(".docgraph/docgraph.db", logger)
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//	if err := database.InitSchema(); err != nil {
//	    return err
//	}
//
//	eng := engine.New(database, typereg.Default(), engine.DefaultConfig())
//	s := sync.New(database, eng, logger)
//	stats, err := s.FullSync(ctx, ".docgraph/docs", ".docgraph/rels")
//
// The daemon package drives the single-file methods from fsnotify events.
package sync
