// Package assetstore implements content-addressable asset storage behind a
// uniform backend contract, with an asynchronous media-processing pipeline
// layered on top.
//
// The package defines the Backend storage contract (implemented by the s3,
// fs and memory sub-packages), the Facade that selects a backend at startup
// and retries failing remote operations against local storage, and the
// shared domain types (StoredObject, AssetVariant, ProcessingState).
//
// Sub-packages:
//
//   - filekey:   deterministic key generation and content checksums
//   - storage:   backend implementations (s3, fs, memory)
//   - media:     metadata extraction and variant generation
//   - pipeline:  the background processing orchestrator
//   - assetrepo: the boundary to the external asset record store
//   - accessurl: URL signing and CDN rewriting for retrieval access
//   - config:    environment configuration and service assembly
package assetstore
