package spec

import (
	"fmt"

	"github.com/tailscale/hujson"
)

// standardizeJSON strips comments and trailing commas from data so
// that hand-authored build specs can use them. [ParseBuildSpec]
// applies it before decoding; artifact.json and profile.json are
// decoded without it.
func standardizeJSON(data []byte) ([]byte, error) {
	out, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("standardize json: %w", err)
	}
	return out, nil
}
