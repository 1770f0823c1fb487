package domain

// ModelDescriptor is the identity and static metadata of one model variant.
type ModelDescriptor struct {
	ID                string `json:"id" yaml:"id"`
	DisplayName       string `json:"displayName" yaml:"name"`
	Description       string `json:"description,omitempty" yaml:"description"`
	SizeEstimateBytes int64  `json:"sizeEstimateBytes" yaml:"size_bytes"`
	Recommended       bool   `json:"recommended" yaml:"recommended"`
	FileName          string `json:"fileName" yaml:"file"`
	URL               string `json:"url" yaml:"url"`
	SHA256            string `json:"sha256,omitempty" yaml:"sha256"`
}
