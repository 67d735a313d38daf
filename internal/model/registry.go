package model

import (
	"errors"
	"fmt"
	"sort"
)

// DefaultRemoteURL hosts the AnimeGANv2 generators.
const DefaultRemoteURL = "https://storage.googleapis.com/ailia-models/animeganv2/"

var ErrUnknownModelName = errors.New("unknown model name")

// StyleModel names a generator and the two files it is built from.
type StyleModel struct {
	Name     string `json:"name"`
	Weights  string `json:"weights"`
	Topology string `json:"topology"`
}

// Artifacts are local paths of a provisioned StyleModel.
type Artifacts struct {
	Weights  string
	Topology string
}

var registry = map[string]StyleModel{
	"paprika":    {Name: "paprika", Weights: "generator_Paprika.onnx", Topology: "generator_Paprika.onnx.prototxt"},
	"hayao":      {Name: "hayao", Weights: "generator_Hayao.onnx", Topology: "generator_Hayao.onnx.prototxt"},
	"shinkai":    {Name: "shinkai", Weights: "generator_Shinkai.onnx", Topology: "generator_Shinkai.onnx.prototxt"},
	"celeba":     {Name: "celeba", Weights: "celeba_distill.onnx", Topology: "celeba_distill.onnx.prototxt"},
	"face_paint": {Name: "face_paint", Weights: "face_paint_512_v2.onnx", Topology: "face_paint_512_v2.onnx.prototxt"},
}

// Lookup returns the registered model called name.
func Lookup(name string) (StyleModel, error) {
	m, ok := registry[name]
	if !ok {
		return StyleModel{}, fmt.Errorf("%w: %q", ErrUnknownModelName, name)
	}
	return m, nil
}

// Names returns the registered model names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
