package memoria

import "errors"

// Error kinds returned by the facade. Library callers receive a structured
// error chain: one of these sentinels wrapping the underlying cause. Check
// with errors.Is:
//
//	if errors.Is(err, memoria.ErrNotInitialized) {
//		// call Initialize first
//	}
//
// Kinds compose where the cause has two faces: a filesystem-level store
// failure matches both ErrStorage and ErrIO, and a dead embedding endpoint
// matches both ErrEmbedding and ErrHTTP.
//
// No error ever includes credentials or full request bodies.
var (
	// ErrStorage is a persistence or schema failure.
	ErrStorage = errors.New("storage error")
	// ErrEmbedding is an embedding transport or provider failure,
	// including the unauthenticated case.
	ErrEmbedding = errors.New("embedding error")
	// ErrRetrieval is a query-time orchestration failure.
	ErrRetrieval = errors.New("retrieval error")
	// ErrInvalidInput is a caller contract violation, e.g. an empty query
	// message or all-blank embedding input.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNotInitialized is returned by every operation before Initialize.
	ErrNotInitialized = errors.New("memory system not initialized")
	// ErrSerialization is a row encoding/decoding or validation failure.
	ErrSerialization = errors.New("serialization error")
	// ErrIO is an underlying device failure.
	ErrIO = errors.New("io error")
	// ErrHTTP is a network transport failure. Always wrapped together with
	// the operation kind (e.g. ErrEmbedding) that was using the transport.
	ErrHTTP = errors.New("http transport error")
)
