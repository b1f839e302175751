package provision

import (
	"sort"
	"strings"
)

// DefaultModelBaseURL serves ggml model files by name.
const DefaultModelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main"

// DefaultModelID is used when settings name no model.
const DefaultModelID = "base.en"

const defaultModelFile = "ggml-base.en.bin"

var modelFiles = map[string]string{
	"tiny":           "ggml-tiny.bin",
	"tiny.en":        "ggml-tiny.en.bin",
	"base":           "ggml-base.bin",
	"base.en":        "ggml-base.en.bin",
	"small":          "ggml-small.bin",
	"small.en":       "ggml-small.en.bin",
	"medium":         "ggml-medium.bin",
	"medium.en":      "ggml-medium.en.bin",
	"large-v1":       "ggml-large-v1.bin",
	"large-v2":       "ggml-large-v2.bin",
	"large-v3":       "ggml-large-v3.bin",
	"large-v3-turbo": "ggml-large-v3-turbo.bin",
}

// ModelFilename maps a logical model identifier to its ggml file name.
// Unknown identifiers fall back to the base English model.
func ModelFilename(id string) string {
	if f, ok := modelFiles[strings.ToLower(strings.TrimSpace(id))]; ok {
		return f
	}
	return defaultModelFile
}

// KnownModels returns the supported model identifiers in sorted order.
func KnownModels() []string {
	ids := make([]string, 0, len(modelFiles))
	for id := range modelFiles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
