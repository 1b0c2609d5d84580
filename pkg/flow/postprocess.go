package flow

import "github.com/cobolgraph/extractor/pkg/model"

// enforceFileIORules re-applies the unambiguous half of fileIORules
// structurally rather than trusting the prompt alone (§9: "the LLM can
// overgeneralize here"): OPEN/CLOSE/WRITE/REWRITE statements have exactly
// one correct usage type regardless of what the model returned, so any edge
// whose source line begins with one of these verbs is corrected in place.
// READ ... INTO is left to the model's own classification since the correct
// split between the file entity (READS) and the record variable (UPDATES)
// depends on which target each edge names, not just the verb on the line.
func enforceFileIORules(refs []model.LineReference, contentByLineID map[string]string) {
	for i := range refs {
		content := contentByLineID[refs[i].SourceLineID]
		switch {
		case containsVerb(content, "OPEN"):
			refs[i].UsageType = model.UsageOpen
		case containsVerb(content, "CLOSE"):
			refs[i].UsageType = model.UsageClose
		case containsVerb(content, "REWRITE"):
			refs[i].UsageType = model.UsageUpdate
		case containsVerb(content, "WRITE"):
			refs[i].UsageType = model.UsageWrite
		}
	}
}

// containsVerb reports whether content's first non-blank token is verb,
// the shape every one of these COBOL statements takes.
func containsVerb(content, verb string) bool {
	i := 0
	for i < len(content) && content[i] == ' ' {
		i++
	}
	rest := content[i:]
	if len(rest) < len(verb) || rest[:len(verb)] != verb {
		return false
	}
	return len(rest) == len(verb) || rest[len(verb)] == ' ' || rest[len(verb)] == '.'
}
