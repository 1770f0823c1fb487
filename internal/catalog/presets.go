package catalog

import "whisper-desk/internal/domain"

const (
	mb = 1000 * 1000
	gb = 1000 * mb

	ggmlBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"
)

// builtinModels are the whisper.cpp presets offered for one-click download.
var builtinModels = []domain.ModelDescriptor{
	preset("tiny", "Tiny", "Fastest multilingual model, lowest accuracy.", 75*mb, false),
	preset("tiny.en", "Tiny (English)", "Fastest model, English only.", 75*mb, false),
	preset("base", "Base", "Balanced speed and quality, multilingual.", 142*mb, true),
	preset("base.en", "Base (English)", "Balanced speed and quality, English only.", 142*mb, false),
	preset("small", "Small", "Higher quality multilingual model.", 466*mb, false),
	preset("small.en", "Small (English)", "Higher quality, English only.", 466*mb, false),
	preset("medium", "Medium", "High quality multilingual model.", 1500*mb, false),
	preset("medium.en", "Medium (English)", "High quality, English only.", 1500*mb, false),
	preset("large-v3", "Large v3", "Best accuracy, slowest.", 2900*mb, false),
	preset("large-v3-turbo", "Turbo", "Large v3 quality at a fraction of the latency.", 1600*mb, false),
}

func preset(id, name, description string, size int64, recommended bool) domain.ModelDescriptor {
	file := "ggml-" + id + ".bin"
	return domain.ModelDescriptor{
		ID:                id,
		DisplayName:       name,
		Description:       description,
		SizeEstimateBytes: size,
		Recommended:       recommended,
		FileName:          file,
		URL:               ggmlBaseURL + file,
	}
}

// Builtin returns a copy of the preset descriptors in display order.
func Builtin() []domain.ModelDescriptor {
	out := make([]domain.ModelDescriptor, len(builtinModels))
	copy(out, builtinModels)
	return out
}
