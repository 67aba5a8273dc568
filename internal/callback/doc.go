// Package callback reconciles the gateway's asynchronous payment results.
//
// Every delivery is acknowledged with {"ResultCode":0,"ResultDesc":"Accepted"},
// whatever happened internally, so the gateway never retries because of our
// errors. Unknown checkout ids and already-settled payments are no-ops. Settled
// checkout ids are remembered in an LRU cache to skip the database lookup on
// duplicate deliveries.
package callback
