package store

import (
	"testing"

	"github.com/roach88/crepo/internal/nodetype"
	"github.com/roach88/crepo/internal/value"
)

func TestMarshalInfo(t *testing.T) {
	tests := []struct {
		name string
		info map[string]string
		want string
	}{
		{"nil", nil, "{}"},
		{"empty", map[string]string{}, "{}"},
		{"sorted keys", map[string]string{"srcAbsPath": "/a", "destAbsPath": "/b"}, `{"destAbsPath":"/b","srcAbsPath":"/a"}`},
		{"no html escaping", map[string]string{"order": "a<b>,c&d"}, `{"order":"a<b>,c&d"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := marshalInfo(tt.info)
			if err != nil {
				t.Fatalf("marshalInfo() error: %v", err)
			}
			if got != tt.want {
				t.Errorf("marshalInfo() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestUnmarshalInfo(t *testing.T) {
	info, err := unmarshalInfo("{}")
	if err != nil || info != nil {
		t.Errorf("unmarshalInfo({}) = %v, %v; want nil map", info, err)
	}

	info, err = unmarshalInfo(`{"srcAbsPath":"/a"}`)
	if err != nil {
		t.Fatal(err)
	}
	if info["srcAbsPath"] != "/a" {
		t.Errorf("srcAbsPath = %q", info["srcAbsPath"])
	}

	if _, err := unmarshalInfo("not json"); err == nil {
		t.Error("expected error for malformed info")
	}
}

func TestDefinitionEncoding(t *testing.T) {
	def := nodetype.Definition{
		Name:       "app:doc",
		Supertypes: []string{"nt:hierarchyNode"},
		Orderable:  true,
		Properties: []nodetype.PropertyDefinition{{Name: "size", RequiredType: value.Long, Mandatory: true}},
	}

	raw, err := marshalDefinition(def)
	if err != nil {
		t.Fatal(err)
	}
	again, err := marshalDefinition(def)
	if err != nil {
		t.Fatal(err)
	}
	if raw != again {
		t.Error("definition encoding is not deterministic")
	}

	got, err := unmarshalDefinition(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != def.Name || !got.Orderable || got.Properties[0].RequiredType != value.Long {
		t.Errorf("decoded definition = %+v", got)
	}
}
