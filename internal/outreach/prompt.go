package outreach

import (
	"fmt"
	"strings"
)

const promptPreamble = `Create a LinkedIn connection message for %s with these rules:
- Max 2 sentences
- Professional but approachable tone
- No emojis or slang
- Skip greetings/signatures

Target Profile: `

// BuildPrompt renders the generation instructions for p. Missing fields are
// replaced with the same neutral defaults the template path uses, so the
// prompt is always complete.
func BuildPrompt(p Profile, c Category) string {
	v := ResolveVars(p)
	title := strings.ToLower(v[VarTitle])

	var b strings.Builder
	fmt.Fprintf(&b, promptPreamble, v[VarName])

	switch c {
	case Recruiter:
		fmt.Fprintf(&b, "Recruiter at %s in %s.\n", v[VarCompany], v[VarIndustry])
		fmt.Fprintf(&b, "Goal: Express interest in internship opportunities, highlight relevant skills (%s), "+
			"and request to stay connected.", v[VarYourRole])
	case Alumni:
		fmt.Fprintf(&b, "Alumni from %s now working as %s at %s.\n", v[VarSchool], title, v[VarCompany])
		b.WriteString("Goal: Establish common ground, express interest in their career journey, " +
			"and request brief insights about transitioning from school to their role.")
	default:
		fmt.Fprintf(&b, "Generic professional (%s at %s).\n", title, v[VarCompany])
		fmt.Fprintf(&b, "Goal: Create connection based on shared industry interests (%s) "+
			"and request knowledge sharing.", v[VarIndustry])
	}

	return b.String()
}
