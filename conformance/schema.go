package conformance

// Suite represents a complete YAML scenario file
type Suite struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Scenarios   []Scenario `yaml:"scenarios"`
}

// Scenario is a single protocol session script: client steps in wire order
// plus assertions about the stored result.
type Scenario struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description,omitempty"`
	Steps       []Step      `yaml:"steps"`
	Files       []FileCheck `yaml:"files,omitempty"`
}

// Step is one client action or one expected server reply. Exactly one
// field is set per step.
type Step struct {
	Send       string      `yaml:"send,omitempty"`        // client sends a line
	SendBinary *BinarySpec `yaml:"send_binary,omitempty"` // client sends a raw payload run (plus terminator)
	Expect     string      `yaml:"expect,omitempty"`        // exact server reply line
	ExpectKind string      `yaml:"expect_kind,omitempty"`   // first token of the server reply (e.g. ERROR)
}

// BinarySpec describes a payload run, either literally (base64) or as a
// repeated byte.
type BinarySpec struct {
	Base64 string      `yaml:"base64,omitempty"`
	Repeat *RepeatSpec `yaml:"repeat,omitempty"`
}

// RepeatSpec is count copies of a single byte value.
type RepeatSpec struct {
	Byte  int `yaml:"byte"`
	Count int `yaml:"count"`
}

// FileCheck asserts the post-session state of one path under the store's
// base directory.
type FileCheck struct {
	Path    string      `yaml:"path"`
	Size    *int64      `yaml:"size,omitempty"`
	Content *BinarySpec `yaml:"content,omitempty"`
	Absent  bool        `yaml:"absent,omitempty"`
}
