package outreach

import "strings"

// Category is the audience bucket a profile falls into. It is derived on every
// request and never stored.
type Category int

const (
	Generic Category = iota
	Recruiter
	Alumni
)

func (c Category) String() string {
	switch c {
	case Recruiter:
		return "recruiter"
	case Alumni:
		return "alumni"
	default:
		return "generic"
	}
}

// Classify maps a profile to its audience category. A recruiting title wins
// over a school field, so a recruiter who lists a school is still a Recruiter.
// Any school key, even one holding null, marks an alumnus.
func Classify(p Profile) Category {
	return classify(p, "recruit", "talent")
}

// classifyForFallback is the narrower variant used by the template path: only
// "recruit" marks a recruiter there, so "Talent Partner" with no school renders
// from the generic union instead of the recruiter pool.
func classifyForFallback(p Profile) Category {
	return classify(p, "recruit")
}

func classify(p Profile, recruiterMarkers ...string) Category {
	title := p.lowerTitle()
	for _, m := range recruiterMarkers {
		if strings.Contains(title, m) {
			return Recruiter
		}
	}
	// Key presence decides, so an explicit null school still marks an alumnus.
	if _, ok := p[KeySchool]; ok {
		return Alumni
	}
	return Generic
}
