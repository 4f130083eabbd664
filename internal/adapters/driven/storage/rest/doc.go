// Package rest provides a driven.RemoteStore over a Supabase/PostgREST table.
//
// Bulk inserts and deletes are sent as one request per call. When the server
// rejects a bulk request with a 4xx status the adapter replays it row by row
// so each rejection is attributed to its own id. 5xx responses and network
// errors fail the whole call.
package rest
