package readable

import "errors"

// ErrMP3Unsupported is returned by OpenMP3: no memory-mappable, dependency-free
// MP3 decoder is available to this build (see DESIGN.md). A .mp3 path is
// therefore rejected at construction, exactly like any other unopenable
// source — decode/open failures are reported as constructor failures, not
// deferred to the first Read.
var ErrMP3Unsupported = errors.New("readable: mp3 decoding is not available in this build")

// OpenMP3 always fails with ErrMP3Unsupported. The signature mirrors
// OpenSoundFilePath so that wiring a real decoder later — memory-map path,
// parse once for frame count, then decode-forward-from-three-frames-before
// to seek for a source that needs prior frames as context — is a single
// function body change, not an interface change.
func OpenMP3(path string) (Readable, error) {
	_ = path
	return nil, ErrMP3Unsupported
}
