package encoding

import (
	"testing"
)

// testMessageTOML is a test structure to use for encoding tests using TOML.
type testMessageTOML struct {
	Section struct {
		Name string `toml:"name"`
		Age  uint   `toml:"age"`
	} `toml:"section"`
}

const (
	// testMessageTOMLString is the TOML-encoded form of the TOML test data.
	testMessageTOMLString = `
[section]
name= "Abraham"
age=56
`
	// testMessageTOMLName is the TOML test name.
	testMessageTOMLName = "Abraham"
	// testMessageTOMLAge is the TOML test age.
	testMessageTOMLAge = 56
)

// TestLoadAndUnmarshalTOML tests that loading and unmarshaling TOML data
// succeeds.
func TestLoadAndUnmarshalTOML(t *testing.T) {
	path := writeTemporaryFile(t, "message.toml", testMessageTOMLString)

	// Attempt to load and unmarshal.
	value := &testMessageTOML{}
	if err := LoadAndUnmarshalTOML(path, value); err != nil {
		t.Fatal("LoadAndUnmarshalTOML failed:", err)
	}

	// Verify test values.
	if value.Section.Name != testMessageTOMLName {
		t.Error("test message name mismatch:", value.Section.Name, "!=", testMessageTOMLName)
	}
	if value.Section.Age != testMessageTOMLAge {
		t.Error("test message age mismatch:", value.Section.Age, "!=", testMessageTOMLAge)
	}
}

// TestLoadAndUnmarshalTOMLUnknownKey tests that unknown keys are rejected.
func TestLoadAndUnmarshalTOMLUnknownKey(t *testing.T) {
	path := writeTemporaryFile(t, "message.toml", "[section]\nnickname = \"Abe\"\n")
	if err := LoadAndUnmarshalTOML(path, &testMessageTOML{}); err == nil {
		t.Error("unknown key accepted")
	}
}
