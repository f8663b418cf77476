package proxy

import "github.com/afscache/afscache/pkg/wire"

// ServerClient is the proxy's view of the wire protocol (spec §4.4, §6).
// internal/rpc provides the net/rpc-backed implementation; the engine only
// depends on this interface so it can be driven by a fake in tests.
type ServerClient interface {
	Validate(args wire.ValidateArgs) (wire.ValidateResult, error)
	DownloadChunk(args wire.DownloadChunkArgs) (wire.DownloadChunkResult, error)
	CancelChunk(args wire.CancelChunkArgs) error
	Upload(args wire.UploadArgs) (wire.UploadResult, error)
	UploadChunk(args wire.UploadChunkArgs) error
	Delete(args wire.DeleteArgs) (wire.DeleteResult, error)
}
