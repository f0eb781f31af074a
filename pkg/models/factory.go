package models

import (
	"fmt"
	"net/http"
	"strconv"
)

// New creates a model based on kind and a generic configuration map.
//
// Supported kinds:
//   - "deepsurv": in-process network; requires "weights" (path to the JSON weights file)
//   - "remote": external model service; requires "url", optional "inputDim",
//     "survivalPath" and "timesPath"
//
// client is used by remote models and may be nil.
func New(kind string, config map[string]string, client *http.Client) (Model, error) {
	switch kind {
	case "deepsurv":
		return newDeepSurv(config)
	case "remote":
		return newRemote(config, client)
	default:
		return nil, fmt.Errorf("unknown model kind: %s (must be deepsurv or remote)", kind)
	}
}

func newDeepSurv(config map[string]string) (Model, error) {
	path := config["weights"]
	if path == "" {
		return nil, fmt.Errorf("deepsurv model requires 'weights' config")
	}
	m, err := LoadDeepSurv(path)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func newRemote(config map[string]string, client *http.Client) (Model, error) {
	url := config["url"]
	if url == "" {
		return nil, fmt.Errorf("remote model requires 'url' config")
	}

	inDim := 0
	if v := config["inputDim"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("remote model: invalid inputDim %q", v)
		}
		inDim = n
	}

	return NewRemote(url, inDim,
		WithHTTPClient(client),
		WithSurvivalPath(config["survivalPath"]),
		WithTimesPath(config["timesPath"]),
	), nil
}
