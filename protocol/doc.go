// Package protocol defines the typed message envelope exchanged between an
// agentwire client and server. Every exchange (content generation, tool
// discovery, tool execution, streaming) travels as a single Message value
// whose Type field selects which variant fields are meaningful.
//
// Messages are correlated by id: a response carries the requestId of the
// message that caused it, never relying on arrival order. The envelope is
// payload-agnostic; Contents, Response, Result and Chunk are opaque to the
// protocol itself.
package protocol
