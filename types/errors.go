package types

import "errors"

var (
	ErrUnsupportedType = errors.New("unsupported content type")
	ErrNoDocuments     = errors.New("no documents found")
	ErrNoChunks        = errors.New("no chunks produced")

	ErrIndexNotFound     = errors.New("index not found")
	ErrIndexUnavailable  = errors.New("index unavailable")
	ErrEmbeddingMismatch = errors.New("embedding configuration does not match index")

	ErrNotReady          = errors.New("pipeline is not ready")
	ErrGenerationTimeout = errors.New("generative model timed out")
	ErrGenerationFailed  = errors.New("generative model failed")
)
