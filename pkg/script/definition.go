package script

import "fmt"

var sectionKinds = map[SectionKind]bool{
	SectionIntro:      true,
	SectionDiagnosis:  true,
	SectionObjections: true,
	SectionClosing:    true,
	SectionPostCall:   true,
}

// Validate checks the definition for consistency.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("script: name is required")
	}
	if len(d.Sections) == 0 {
		return fmt.Errorf("script %q: at least one section is required", d.Name)
	}

	keys := make(map[string]int)
	for i, s := range d.Sections {
		if !sectionKinds[s.Kind] {
			return fmt.Errorf("script %q section %d: unknown kind %q", d.Name, i, s.Kind)
		}
		for _, q := range s.Questions {
			if q.Key == "" {
				return fmt.Errorf("script %q section %d: question key is required", d.Name, i)
			}
			if prev, dup := keys[q.Key]; dup {
				return fmt.Errorf("script %q: question %q declared in sections %d and %d",
					d.Name, q.Key, prev, i)
			}
			keys[q.Key] = i
		}
	}
	return nil
}

// MissingAnswers returns the required question keys of steps before upTo
// that have no answer.
func (d *Definition) MissingAnswers(upTo int, answers map[string]string) []string {
	var missing []string
	for i := 0; i < upTo && i < len(d.Sections); i++ {
		for _, q := range d.Sections[i].Questions {
			if q.Required && answers[q.Key] == "" {
				missing = append(missing, q.Key)
			}
		}
	}
	return missing
}
