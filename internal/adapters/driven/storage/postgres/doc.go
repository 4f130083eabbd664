// Package postgres provides a PostgreSQL implementation of driven.RemoteStore
// using jackc/pgx connection pooling and the pgvector extension.
//
// Each bulk call runs in one transaction and every row in its own savepoint,
// so a row rejected by the server is reported on its own while its siblings
// commit. Server-side rejections (*pgconn.PgError) are row failures; anything
// else aborts the call as a transport failure.
package postgres
