package outreach

import "strings"

// Placeholder variables a template may reference as {name}.
const (
	VarName        = "name"
	VarTitle       = "title"
	VarCompany     = "company"
	VarSchool      = "school"
	VarIndustry    = "industry"
	VarYourRole    = "your_role"
	VarCurrentRole = "current_role"
)

var recruiterTemplates = [...]string{
	"I'm currently exploring internship opportunities in {industry} and would appreciate connecting with someone from {company}'s talent team.",
	"As a {your_role} passionate about {industry}, I'd love to connect with {company}'s recruitment team to stay updated on future opportunities.",
	"I'm impressed by {company}'s work in {industry} and would welcome the chance to connect with your recruitment team.",
	"Would love to stay connected with {company}'s talent acquisition team as I explore internship opportunities in {industry}.",
}

var alumniTemplates = [...]string{
	"As a fellow {school} graduate currently exploring {industry} opportunities, I'd love to connect and hear about your journey from {school} to {current_role} at {company}.",
	"I noticed we both attended {school} - would you be open to sharing how your experience there helped shape your path to {current_role} at {company}?",
	"As a current {school} student interested in {industry}, I'd appreciate connecting with alumni like yourself to learn about your career journey.",
	"Your path from {school} to {current_role} at {company} is inspiring! Would you be open to connecting and sharing some career insights?",
}

// Pool returns the templates a category renders from. Generic has no pool of
// its own and draws from the recruiter and alumni pools combined. The returned
// slice is a copy.
func Pool(c Category) []string {
	switch c {
	case Recruiter:
		return append([]string(nil), recruiterTemplates[:]...)
	case Alumni:
		return append([]string(nil), alumniTemplates[:]...)
	default:
		out := make([]string, 0, len(recruiterTemplates)+len(alumniTemplates))
		out = append(out, recruiterTemplates[:]...)
		return append(out, alumniTemplates[:]...)
	}
}

// Vars is a fully resolved substitution set.
type Vars map[string]string

var defaultVars = Vars{
	VarName:        "there",
	VarTitle:       "professional",
	VarCompany:     "your company",
	VarSchool:      "our shared alma mater",
	VarIndustry:    "this field",
	VarYourRole:    "aspiring professional",
	VarCurrentRole: "current position",
}

// ResolveVars fills every template variable from the profile, falling back to
// neutral defaults for absent fields.
func ResolveVars(p Profile) Vars {
	return Vars{
		VarName:        p.FieldOr(KeyName, defaultVars[VarName]),
		VarTitle:       p.FieldOr(KeyTitle, defaultVars[VarTitle]),
		VarCompany:     p.FieldOr(KeyCompany, defaultVars[VarCompany]),
		VarSchool:      p.FieldOr(KeySchool, defaultVars[VarSchool]),
		VarIndustry:    p.FieldOr(KeyIndustry, defaultVars[VarIndustry]),
		VarYourRole:    p.FieldOr(KeyYourRole, defaultVars[VarYourRole]),
		VarCurrentRole: p.FieldOr(KeyTitle, defaultVars[VarCurrentRole]),
	}
}

// Render substitutes every {var} in tmpl. Unknown placeholders are left as is.
func (v Vars) Render(tmpl string) string {
	pairs := make([]string, 0, len(v)*2)
	for k, val := range v {
		pairs = append(pairs, "{"+k+"}", val)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
