package recognition

import "github.com/justsay/livecap-core/core/audio"

type ConnectOptions struct {
	EncodingInfo audio.EncodingInfo

	// Language is the recognition language; empty means autodetect.
	Language string
	// Model selects the backend model variant.
	Model string

	// Diarize requests per-speaker attribution where the backend supports it.
	Diarize bool

	// TargetLanguage enables backend-side translation of recognized text.
	// Empty disables it; translation can also be layered on by the engine.
	TargetLanguage string
}

type ConnectOption func(*ConnectOptions)

func WithEncodingInfo(encodingInfo audio.EncodingInfo) ConnectOption {
	return func(o *ConnectOptions) {
		o.EncodingInfo = encodingInfo
	}
}

func WithLanguage(language string) ConnectOption {
	return func(o *ConnectOptions) {
		o.Language = language
	}
}

func WithModel(model string) ConnectOption {
	return func(o *ConnectOptions) {
		o.Model = model
	}
}

func WithDiarization(diarize bool) ConnectOption {
	return func(o *ConnectOptions) {
		o.Diarize = diarize
	}
}

func WithTargetLanguage(targetLanguage string) ConnectOption {
	return func(o *ConnectOptions) {
		o.TargetLanguage = targetLanguage
	}
}

// ResolveConnectOptions folds option functions over backend defaults.
func ResolveConnectOptions(opts ...ConnectOption) ConnectOptions {
	options := ConnectOptions{EncodingInfo: audio.GetDefaultEncodingInfo()}
	for _, opt := range opts {
		opt(&options)
	}

	return options
}
