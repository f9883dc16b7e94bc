package assetstore

// UploadRequest contains parameters for uploading an original or derived file.
type UploadRequest struct {
	// Data is the full file content. Uploads are buffer-based so the facade
	// can compute the checksum once and replay the bytes on backend fallback.
	Data []byte

	// Filename is the original client-supplied name, preserved (sanitized)
	// inside the generated key.
	Filename string

	// ContentType is the MIME type stored with the object.
	ContentType string

	// Prefix is the top-level key segment, e.g. "assets" or "variants".
	Prefix string

	// Metadata is attached to the stored object as backend metadata.
	Metadata map[string]string
}

// UploadResult reports where and how an upload was persisted.
type UploadResult struct {
	FileKey   string `json:"file_key"`
	Backend   string `json:"backend"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
	URL       string `json:"url,omitempty"`
}
