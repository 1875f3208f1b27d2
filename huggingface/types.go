// types.go - Antworttypen der Model-Hub API und Fehlertypen
package huggingface

import "time"

// APIModelInfo holds the metadata the hub returns for a repository.
type APIModelInfo struct {
	ID           string       `json:"id"`
	ModelID      string       `json:"modelId"`
	Author       string       `json:"author"`
	SHA          string       `json:"sha"`
	LastModified time.Time    `json:"lastModified"`
	Private      bool         `json:"private"`
	Gated        any          `json:"gated"` // false, "auto" oder "manual"
	Pipeline     string       `json:"pipeline_tag"`
	Tags         []string     `json:"tags"`
	Downloads    int64        `json:"downloads"`
	Likes        int64        `json:"likes"`
	LibraryName  string       `json:"library_name"`
	Siblings     []APISibling `json:"siblings"`
}

// IsGated reports whether downloads require accepting the model terms.
func (m *APIModelInfo) IsGated() bool {
	switch v := m.Gated.(type) {
	case bool:
		return v
	case string:
		return v == "auto" || v == "manual"
	default:
		return false
	}
}

// APISibling is one file of a repository.
type APISibling struct {
	Filename string   `json:"rfilename"`
	Size     int64    `json:"size"`
	BlobID   string   `json:"blobId"`
	LFS      *LFSInfo `json:"lfs,omitempty"`
}

// FileSize prefers the LFS size, the plain size is that of the pointer.
func (s APISibling) FileSize() int64 {
	if s.LFS != nil && s.LFS.Size > 0 {
		return s.LFS.Size
	}
	return s.Size
}

type LFSInfo struct {
	Size        int64  `json:"size"`
	SHA256      string `json:"sha256"`
	PointerSize int64  `json:"pointerSize"`
}

// HuggingFaceError wraps a failed hub operation.
type HuggingFaceError struct {
	Op      string // info, download, snapshot
	ModelID string
	Err     error
}

func (e *HuggingFaceError) Error() string {
	if e.ModelID != "" {
		return "huggingface " + e.Op + " [" + e.ModelID + "]: " + e.Err.Error()
	}
	return "huggingface " + e.Op + ": " + e.Err.Error()
}

func (e *HuggingFaceError) Unwrap() error {
	return e.Err
}
