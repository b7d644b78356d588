// Package telemetry reads and writes values on the telemetry backend.
//
// It covers three concerns:
//   - Value, a scalar wrapper whose zero value is the Unknown sentinel
//   - the response normalizer (ExtractFromResponse, ExtractScalar), which
//     tolerates the shapes the backend returns for time-series and
//     attribute reads and never panics
//   - Client, the remote reader/writer, which prefers a host-provided
//     HostClient and otherwise talks HTTP with a bearer token from a
//     Credentials source
//
// # Ordering contract
//
// Time-series responses are assumed to be ascending by timestamp. The
// normalizer takes the last element of a sequence as the current value and
// never re-sorts; a backend returning descending order yields the oldest
// sample.
package telemetry
