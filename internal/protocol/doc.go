// Package protocol defines the JSON-RPC 2.0 envelope exchanged over the
// duplex channel.
//
// The bridge never interprets tool semantics: params, result, and error are
// json.RawMessage and pass through verbatim. Only three shape properties
// matter to the bridge:
//
//   - a reply has an id plus a result or error field
//   - a notification has a method and no id
//   - everything else is a correlated request
//
// Frames that fail Decode are logged and dropped by the listener; they never
// terminate the connection.
package protocol
