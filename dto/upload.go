package dto

// UploadDescriptor carries the metadata of one uploaded file through
// validation. ContentHash is filled in by the validator on acceptance.
type UploadDescriptor struct {
	Filename     string `json:"filename"`
	DeclaredSize int64  `json:"declared_size"`
	DeclaredType string `json:"declared_type"`
	ContentHash  string `json:"content_hash,omitempty"`
}

type UploadResponse struct {
	FileID      string `json:"file_id"`
	Filename    string `json:"filename"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
	StoragePath string `json:"storage_path,omitempty"`
}
