// Copyright 2026 The Granary Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool wraps zombiezen.com/go/sqlite's connection pool
// with Granary-standard pragmas (WAL journaling, busy timeout, foreign
// keys on). Every Granary store opens its database through this
// package so all connections behave identically.
//
// Usage:
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{Path: dbPath})
//	...
//	conn, err := pool.Take(ctx)
//	if err != nil { ... }
//	defer pool.Put(conn)
//	err = sqlitex.Execute(conn, "SELECT ...", &sqlitex.ExecOptions{...})
package sqlitepool
