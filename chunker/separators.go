package chunker

import (
	"strings"

	"docrag/types"
)

// separator is a candidate split point. A chunk ending at a separator
// keeps cut runes of it; the rest starts the next chunk. Structural
// separators such as "\nclass " cut after the newline so the declaration
// opens the following chunk.
type separator struct {
	text []rune
	cut  int
}

func newSeparators(list ...string) []separator {
	seps := make([]separator, 0, len(list))
	for _, s := range list {
		r := []rune(s)
		cut := len(r)
		if strings.HasPrefix(s, "\n") && strings.TrimSpace(s) != "" {
			cut = 1
		}
		seps = append(seps, separator{text: r, cut: cut})
	}
	return seps
}

var (
	proseSeparators = newSeparators("\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " ")

	markdownSeparators = newSeparators(
		"\n# ", "\n## ", "\n### ", "\n#### ", "\n```\n",
		"\n\n", "\n", ". ", "! ", "? ", " ",
	)

	javaSeparators = newSeparators(
		"\nclass ", "\ninterface ", "\nenum ",
		"\npublic ", "\nprotected ", "\nprivate ", "\nstatic ",
		"\n    public ", "\n    protected ", "\n    private ", "\n    static ",
		"\nif ", "\nfor ", "\nwhile ", "\nswitch ", "\ncase ",
		"\n\n", "\n", " ",
	)

	pythonSeparators = newSeparators(
		"\nclass ", "\ndef ", "\nasync def ", "\n    def ", "\n    async def ", "\n\tdef ",
		"\n\n", "\n", " ",
	)

	goSeparators = newSeparators(
		"\nfunc ", "\ntype ", "\nvar ", "\nconst ",
		"\nif ", "\nfor ", "\nswitch ", "\ncase ",
		"\n\n", "\n", " ",
	)
)

func separatorsFor(t types.ContentType) []separator {
	switch t {
	case types.Java:
		return javaSeparators
	case types.Python:
		return pythonSeparators
	case types.Go:
		return goSeparators
	case types.Markdown:
		return markdownSeparators
	default:
		return proseSeparators
	}
}
