package script

// SectionKind orders the parts of a call script.
type SectionKind string

const (
	SectionIntro      SectionKind = "intro"
	SectionDiagnosis  SectionKind = "diagnosis"
	SectionObjections SectionKind = "objections"
	SectionClosing    SectionKind = "closing"
	SectionPostCall   SectionKind = "post_call"
)

// Definition is a YAML-mappable call script. Each section is one step of
// the interactive session, walked in declaration order.
type Definition struct {
	Name        string    `yaml:"name"        json:"name"`
	Objective   string    `yaml:"objective"   json:"objective,omitempty"`
	CallType    string    `yaml:"call_type"   json:"call_type,omitempty"`
	Description string    `yaml:"description" json:"description,omitempty"`
	Sections    []Section `yaml:"sections"    json:"sections"`
}

// Section is one step of a script.
type Section struct {
	Kind      SectionKind `yaml:"kind"      json:"kind"`
	Content   string      `yaml:"content"   json:"content,omitempty"`
	Questions []Question  `yaml:"questions" json:"questions,omitempty"`
}

// Question is an answer slot the agent fills in during the call.
type Question struct {
	Key      string `yaml:"key"      json:"key"`
	Prompt   string `yaml:"prompt"   json:"prompt"`
	Required bool   `yaml:"required" json:"required,omitempty"`
}

// Steps returns the number of steps in the script.
func (d *Definition) Steps() int {
	return len(d.Sections)
}
